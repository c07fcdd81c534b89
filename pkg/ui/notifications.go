package ui

import (
	"fmt"
	"os/exec"
	"runtime"

	"unsplashdl/pkg/summary"
)

// NotificationSender interface for platform-specific notification implementations
type NotificationSender interface {
	Send(title, message string) error
}

// LinuxNotificationSender sends notifications on Linux using notify-send
type LinuxNotificationSender struct{}

func (l *LinuxNotificationSender) Send(title, message string) error {
	return exec.Command("notify-send", "--app-name=unsplashdl", title, message).Run()
}

// MacOSNotificationSender sends notifications on macOS using osascript
type MacOSNotificationSender struct{}

func (m *MacOSNotificationSender) Send(title, message string) error {
	script := fmt.Sprintf(`display notification %q with title %q`, message, title)
	return exec.Command("osascript", "-e", script).Run()
}

// WindowsNotificationSender sends notifications on Windows using PowerShell
type WindowsNotificationSender struct{}

func (w *WindowsNotificationSender) Send(title, message string) error {
	script := fmt.Sprintf(`
		[Windows.UI.Notifications.ToastNotificationManager, Windows.UI.Notifications, ContentType = WindowsRuntime] | Out-Null
		[Windows.Data.Xml.Dom.XmlDocument, Windows.Data.Xml.Dom.XmlDocument, ContentType = WindowsRuntime] | Out-Null
		$xml = @"
<toast>
	<visual>
		<binding template="ToastText02">
			<text id="1">%s</text>
			<text id="2">%s</text>
		</binding>
	</visual>
</toast>
"@
		$doc = [Windows.Data.Xml.Dom.XmlDocument]::new()
		$doc.LoadXml($xml)
		$toast = [Windows.UI.Notifications.ToastNotification]::new($doc)
		[Windows.UI.Notifications.ToastNotificationManager]::CreateToastNotifier("unsplashdl").Show($toast)
	`, title, message)

	return exec.Command("powershell", "-NoProfile", "-NonInteractive", "-Command", script).Run()
}

// Notifier prints a message and mirrors it as a desktop notification
type Notifier struct {
	sender NotificationSender
}

// NewNotifier picks the sender for the current platform. Unsupported
// platforms only print.
func NewNotifier() *Notifier {
	switch runtime.GOOS {
	case "linux":
		return NewNotifierWithSender(&LinuxNotificationSender{})
	case "darwin":
		return NewNotifierWithSender(&MacOSNotificationSender{})
	case "windows":
		return NewNotifierWithSender(&WindowsNotificationSender{})
	default:
		return NewNotifierWithSender(nil)
	}
}

// NewNotifierWithSender uses sender for desktop notifications; nil disables them
func NewNotifierWithSender(sender NotificationSender) *Notifier {
	return &Notifier{sender: sender}
}

// SendNotification sends a desktop notification and prints to console
func (n *Notifier) SendNotification(title, message string) {
	fmt.Fprintf(output, "\n%s: %s\n", Cyan(title), Yellow(message))
	n.send(title, message)
}

// SendError sends an error notification
func (n *Notifier) SendError(title, message string) {
	fmt.Fprintf(output, "\n%s: %s\n", Red(title), Red(message))
	n.send(title, message)
}

// SendSuccess sends a success notification
func (n *Notifier) SendSuccess(title, message string) {
	fmt.Fprintf(output, "\n%s: %s\n", Green(title), Green(message))
	n.send(title, message)
}

// RunFinished announces the end of a download run
func (n *Notifier) RunFinished(s summary.RunSummary) {
	if s.AllSucceeded() {
		n.SendSuccess("Downloads complete", s.String())
		return
	}
	n.SendError("Downloads finished with failures", s.String())
}

func (n *Notifier) send(title, message string) {
	if n.sender == nil {
		return
	}
	// a missing notify-send or osascript must not fail the run
	_ = n.sender.Send(title, message)
}
