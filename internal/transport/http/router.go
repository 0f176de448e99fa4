package arenahttp

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"arena/internal/market"
	"arena/internal/store"
)

const defaultListLimit = 100

// Router exposes the read-only arena queries.
type Router struct {
	store     store.Store
	feed      market.Feed
	feedState func() market.FailoverState
}

func NewRouter(st store.Store, feed market.Feed, feedState func() market.FailoverState) *Router {
	return &Router{store: st, feed: feed, feedState: feedState}
}

func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	group.GET("/models", r.handleModels)
	group.GET("/models/:id/positions", r.handleModelPositions)
	group.GET("/models/:id/trades", r.handleModelTrades)
	group.GET("/models/:id/decisions", r.handleModelDecisions)
	group.GET("/positions", r.handlePositions)
	group.GET("/trades", r.handleTrades)
	group.GET("/decisions", r.handleDecisions)
	group.GET("/prices", r.handlePrices)
	group.GET("/feed", r.handleFeedState)
}

func (r *Router) handleModels(c *gin.Context) {
	accounts, err := r.store.Accounts().List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"models": accounts})
}

// resolveAccount accepts either an account id or a model id.
func (r *Router) resolveAccount(c *gin.Context) (string, bool) {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing model id"})
		return "", false
	}
	ctx := c.Request.Context()
	if acct, err := r.store.Accounts().GetByID(ctx, id); err == nil && acct != nil {
		return acct.ID, true
	}
	acct, err := r.store.Accounts().GetByModelID(ctx, id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return "", false
	}
	if acct == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown model " + id})
		return "", false
	}
	return acct.ID, true
}

func (r *Router) handleModelPositions(c *gin.Context) {
	accountID, ok := r.resolveAccount(c)
	if !ok {
		return
	}
	positions, err := r.store.Positions().ListByAccount(c.Request.Context(), accountID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"positions": positions})
}

func (r *Router) handleModelTrades(c *gin.Context) {
	accountID, ok := r.resolveAccount(c)
	if !ok {
		return
	}
	trades, err := r.store.Trades().ListByAccount(c.Request.Context(), accountID, listLimit(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades})
}

func (r *Router) handleModelDecisions(c *gin.Context) {
	accountID, ok := r.resolveAccount(c)
	if !ok {
		return
	}
	logs, err := r.store.DecisionLogs().ListByAccount(c.Request.Context(), accountID, listLimit(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"decisions": logs})
}

func (r *Router) handlePositions(c *gin.Context) {
	positions, err := r.store.Positions().ListAll(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"positions": positions})
}

func (r *Router) handleTrades(c *gin.Context) {
	trades, err := r.store.Trades().ListRecent(c.Request.Context(), listLimit(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades})
}

func (r *Router) handleDecisions(c *gin.Context) {
	logs, err := r.store.DecisionLogs().ListRecent(c.Request.Context(), listLimit(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"decisions": logs})
}

func (r *Router) handlePrices(c *gin.Context) {
	if r.feed == nil {
		c.JSON(http.StatusOK, gin.H{"prices": []market.PriceTick{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"prices": r.feed.AllSnapshots()})
}

func (r *Router) handleFeedState(c *gin.Context) {
	if r.feedState == nil {
		c.JSON(http.StatusOK, gin.H{"state": "polling"})
		return
	}
	state := r.feedState()
	c.JSON(http.StatusOK, gin.H{"state": state.State.String(), "attempt": state.Attempt})
}

func listLimit(c *gin.Context) int {
	raw := c.Query("limit")
	if raw == "" {
		return defaultListLimit
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 || limit > 1000 {
		return defaultListLimit
	}
	return limit
}
