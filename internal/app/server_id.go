package app

import (
	"os"
	"strings"

	"github.com/google/uuid"
)

// GenerateServerID 实例ID，用于 Redis 会话归属
// AVL_SERVER_ID 优先，否则为 {app}-{hostname}-{uuid前8位}
func GenerateServerID(appName string) string {
	if id := os.Getenv("AVL_SERVER_ID"); id != "" {
		return id
	}
	if appName == "" {
		appName = "avl-server"
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	host = strings.ToLower(strings.SplitN(host, ".", 2)[0])
	return strings.Join([]string{appName, host, uuid.NewString()[:8]}, "-")
}
