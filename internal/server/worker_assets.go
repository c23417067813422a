package server

import "github.com/gofiber/fiber/v3"

// worker 脚本与 manifest 需要额外的注册头；正文仍然走正常的
// 拦截路径（命中缓存或回源），这里只负责补头。头必须在 handler 链
// 结束后再写，否则会被透传的上游 Cache-Control 覆盖。
var workerAssetHeaders = map[string]struct{}{
	"/sw.js":                {},
	"/manifest.webmanifest": {},
}

func workerAssetMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		_, ok := workerAssetHeaders[string(c.Request().URI().Path())]
		err := c.Next()
		if ok {
			c.Set("Service-Worker-Allowed", "/")
			c.Set("Cache-Control", "no-cache")
		}
		return err
	}
}
