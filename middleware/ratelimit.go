// Copyright (C) 2026 Aeck HQ
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/aeckhq/tutorchat/observability"
	"github.com/aeckhq/tutorchat/ratelimit"
)

// RateLimit rejects requests over the per-client budget with 429 before any
// other work runs. The key is the client IP, so the limit holds even for
// unauthenticated or replayed requests. The endpoint label is only used for
// metrics attribution.
func RateLimit(limiter ratelimit.Limiter, endpoint observability.Endpoint) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiter.Allow(c.ClientIP()) {
			if m := observability.DefaultMetrics; m != nil {
				m.RecordError(endpoint, observability.ErrorCodeRateLimited)
			}
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded, try again later",
			})
			return
		}
		c.Next()
	}
}
