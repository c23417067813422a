package metadata

import (
	"context"
	"net/url"

	"github.com/gofiber/fiber/v3"
)

// NewHandler 返回 GET /api/metadata 的 Fiber handler。url 参数必须是
// 绝对的 http/https 地址；参数校验失败返回 400，抓取失败不返回错误，
// 而是退化的 {title: url, url} 结构。
func NewHandler(fetcher *Fetcher) fiber.Handler {
	return func(c fiber.Ctx) error {
		target := c.Query("url")
		if target == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "url_required"})
		}

		parsed, err := url.Parse(target)
		if err != nil || !parsed.IsAbs() || (parsed.Scheme != "http" && parsed.Scheme != "https") {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "url_invalid"})
		}

		ctx := c.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		return c.JSON(fetcher.Fetch(ctx, target))
	}
}
