package routes

import (
	"sort"

	"github.com/gofiber/fiber/v3"

	"github.com/practice-timer/swgate/internal/cache"
)

// RegisterCacheRoutes 暴露 /-/caches 诊断接口，供运维确认激活清扫后
// 只剩当前缓存，以及各缓存的条目数量。
func RegisterCacheRoutes(app *fiber.App, storage cache.Storage, currentName string) {
	if app == nil || storage == nil {
		return
	}

	app.Get("/-/caches", func(c fiber.Ctx) error {
		names, err := storage.Keys()
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "storage_list_failed"})
		}
		payload := fiber.Map{
			"current": currentName,
			"caches":  encodeCaches(storage, names, currentName),
		}
		return c.JSON(payload)
	})
}

type cachePayload struct {
	Name    string `json:"name"`
	Entries int    `json:"entries"`
	Current bool   `json:"current"`
}

func encodeCaches(storage cache.Storage, names []string, currentName string) []cachePayload {
	if len(names) == 0 {
		return nil
	}
	sort.Strings(names)
	result := make([]cachePayload, 0, len(names))
	for _, name := range names {
		item := cachePayload{Name: name, Current: name == currentName}
		if opened, err := storage.Open(name); err == nil {
			if count, err := opened.Len(); err == nil {
				item.Entries = count
			}
		}
		result = append(result, item)
	}
	return result
}
