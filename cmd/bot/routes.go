package main

import (
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"interchat/internal/auth"
	"interchat/internal/broadcast"
	"interchat/internal/modlog"
	"interchat/internal/reporting"
	"interchat/internal/userphone"
	"interchat/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

type routeDeps struct {
	authMW    gin.HandlerFunc
	auth      *auth.Manager
	db        *sql.DB
	rdb       *redis.Client
	calls     *userphone.Manager
	pipeline  *broadcast.Pipeline
	reactions *broadcast.Reactions
	modlog    *modlog.Service
	reports   *reporting.Service
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers delegate to internal modules.
func registerRoutes(r *gin.Engine, deps routeDeps) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		if err := utils.HealthCheck(c.Request.Context(), deps.db, 5*time.Second); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "postgres": err.Error()})
			return
		}
		if err := deps.rdb.Ping(c.Request.Context()).Err(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "redis": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Token refresh is public by nature: it authenticates with the
	// refresh token itself.
	r.POST("/v1/auth/refresh", func(c *gin.Context) {
		var body struct {
			RefreshToken string `json:"refresh_token"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
			return
		}
		now := time.Now()
		claims, err := deps.auth.Verify(body.RefreshToken, auth.TokenTypeRefresh, now)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
			return
		}
		pair, err := deps.auth.IssuePair(now, claims.UserID, claims.Role)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
			return
		}
		c.JSON(http.StatusOK, pair)
	})

	// protected admin API
	v1 := r.Group("/v1")
	v1.Use(deps.authMW)
	{
		v1.GET("/me", func(c *gin.Context) {
			uid, _ := auth.UserID(c.Request.Context())
			role, _ := auth.Role(c.Request.Context())
			c.JSON(http.StatusOK, gin.H{"user_id": uid, "role": role})
		})

		v1.GET("/stats", func(c *gin.Context) {
			c.JSON(http.StatusOK, deps.calls.Stats())
		})

		v1.GET("/calls/:channel_id", func(c *gin.Context) {
			call, err := deps.calls.GetActiveCall(c.Request.Context(), c.Param("channel_id"))
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
				return
			}
			if call == nil {
				c.JSON(http.StatusNotFound, gin.H{"error": "no active call"})
				return
			}
			c.JSON(http.StatusOK, call)
		})

		admin := v1.Group("")
		admin.Use(auth.RequireAnyRole(auth.RoleAdmin))
		{
			admin.POST("/calls/:call_id/flag", func(c *gin.Context) {
				var body struct {
					Flagged bool `json:"flagged"`
				}
				if err := c.ShouldBindJSON(&body); err != nil {
					c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
					return
				}
				if err := deps.calls.FlagCall(c.Request.Context(), c.Param("call_id"), body.Flagged); err != nil {
					c.JSON(http.StatusNotFound, gin.H{"error": "call not found"})
					return
				}
				c.JSON(http.StatusOK, gin.H{"flagged": body.Flagged})
			})

			// Moderation escape hatch: strip or apply a reaction on a
			// broadcast message on a user's behalf.
			admin.POST("/reactions/:message_id", func(c *gin.Context) {
				var body struct {
					Emoji  string `json:"emoji"`
					UserID string `json:"user_id"`
					Add    bool   `json:"add"`
				}
				if err := c.ShouldBindJSON(&body); err != nil {
					c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
					return
				}
				err := deps.reactions.UpdateReactions(c.Request.Context(), c.Param("message_id"), body.Emoji, body.UserID, body.Add)
				if err != nil {
					c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
					return
				}
				c.JSON(http.StatusOK, gin.H{"updated": true})
			})

			admin.POST("/connections/:channel_id/disconnect", func(c *gin.Context) {
				if err := deps.pipeline.Disconnect(c.Request.Context(), c.Param("channel_id")); err != nil {
					c.JSON(http.StatusNotFound, gin.H{"error": "connection not found"})
					return
				}
				c.JSON(http.StatusOK, gin.H{"disconnected": true})
			})
		}

		v1.GET("/modlog/:hub_id", func(c *gin.Context) {
			entries, err := deps.modlog.ListByHub(c.Request.Context(), c.Param("hub_id"), intQuery(c, "limit"))
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
				return
			}
			c.JSON(http.StatusOK, gin.H{"entries": entries})
		})

		reports := v1.Group("/reports")
		{
			reports.GET("/calls", func(c *gin.Context) {
				rng, ok := timeRange(c)
				if !ok {
					return
				}
				sum, err := deps.reports.CallsSummary(c.Request.Context(), reporting.CallsSummaryRequest{Range: rng})
				if err != nil {
					c.JSON(http.StatusBadRequest, gin.H{"error": "invalid range"})
					return
				}
				c.JSON(http.StatusOK, sum)
			})

			reports.GET("/activity", func(c *gin.Context) {
				rng, ok := timeRange(c)
				if !ok {
					return
				}
				rep, err := deps.reports.Activity(c.Request.Context(), reporting.ActivityRequest{
					Range: rng,
					Top:   intQuery(c, "top"),
				})
				if err != nil {
					c.JSON(http.StatusBadRequest, gin.H{"error": "invalid range"})
					return
				}
				c.JSON(http.StatusOK, rep)
			})
		}
	}
}

// timeRange parses from/to query params (RFC 3339), defaulting to the last
// 24 hours. Writes the error response itself when parsing fails.
func timeRange(c *gin.Context) (reporting.TimeRange, bool) {
	now := time.Now()
	rng := reporting.TimeRange{From: now.Add(-24 * time.Hour), To: now}

	if v := c.Query("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "from must be RFC 3339"})
			return reporting.TimeRange{}, false
		}
		rng.From = t
	}
	if v := c.Query("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "to must be RFC 3339"})
			return reporting.TimeRange{}, false
		}
		rng.To = t
	}
	return rng, true
}

func intQuery(c *gin.Context, key string) int {
	n, err := strconv.Atoi(c.Query(key))
	if err != nil || n < 0 {
		return 0
	}
	return n
}
