// handlers/params.go
package handlers

import (
	"fmt"
	"strconv"
	"time"

	"referral-commission-service/utils"

	"github.com/gofiber/fiber/v2"
)

// parseBody decodes and validates a JSON body. On failure it has already
// written the 400 response and returns false.
func parseBody(c *fiber.Ctx, dst interface{}) (bool, error) {
	if err := c.BodyParser(dst); err != nil {
		return false, badRequest(c, "invalid_body", "Invalid request body")
	}
	if err := utils.ValidateStruct(dst); err != nil {
		return false, badRequest(c, "invalid_body", err.Error())
	}
	return true, nil
}

func pageParams(c *fiber.Ctx) (int, int) {
	page, _ := strconv.Atoi(c.Query("page", "1"))
	size, _ := strconv.Atoi(c.Query("size", "20"))
	return page, size
}

// timeQuery parses an RFC3339 timestamp or a YYYY-MM-DD date.
func timeQuery(c *fiber.Ctx, key string) (*time.Time, error) {
	raw := c.Query(key)
	if raw == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("invalid %s: expected RFC3339 or YYYY-MM-DD", key)
}

func paged(items interface{}, total int64, page, size int) fiber.Map {
	if page < 1 {
		page = 1
	}
	if size < 1 || size > 100 {
		size = 20
	}
	return fiber.Map{
		"items":       items,
		"page":        page,
		"size":        size,
		"total_items": total,
		"total_pages": int((total + int64(size) - 1) / int64(size)),
	}
}
