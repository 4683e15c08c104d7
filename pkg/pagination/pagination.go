package pagination

import (
	"strconv"

	"github.com/gin-gonic/gin"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// Per-listing defaults.
const (
	UserLimit    = 10
	LedgerLimit  = 25
	CatalogLimit = 50
)

// Params holds validated pagination parameters
type Params struct {
	Page   int
	Limit  int
	Offset int
}

// Normalize clamps page to at least 1 and limit to 1..MaxLimit, using defaultLimit when unset.
func Normalize(page, limit, defaultLimit int) Params {
	if page < 1 {
		page = 1
	}
	if defaultLimit < 1 {
		defaultLimit = DefaultLimit
	}
	if limit < 1 {
		limit = defaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	return Params{Page: page, Limit: limit, Offset: (page - 1) * limit}
}

// Parse reads ?page= and ?limit=. Unparseable values fall back to the defaults.
func Parse(c *gin.Context, defaultLimit int) Params {
	page, _ := strconv.Atoi(c.Query("page"))
	limit, _ := strconv.Atoi(c.Query("limit"))
	return Normalize(page, limit, defaultLimit)
}
