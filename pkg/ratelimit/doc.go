// Package ratelimit paces photo page navigations so long runs do not hammer the site.
//
// Available Implementations:
//
// Token Bucket:
//   - Holds up to Burst tokens, one token is earned every minute/rate
//   - Default strategy
//
// Sliding Window:
//   - At most rate navigations within any one-minute span
//
// Unlimited:
//   - Returned by New when navigations_per_minute is 0
//
// All limiters implement Limiter; Wait takes a context so a cancelled run
// stops waiting immediately.
//
//	limiter, err := ratelimit.New(cfg.RateLimit)
//	if err != nil {
//	    return err
//	}
//	if err := limiter.Wait(ctx); err != nil {
//	    return err
//	}
package ratelimit
