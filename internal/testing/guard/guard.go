// Package guard switches entry points into test mode when imported by tests.
package guard

import (
	"os"
	"sync"

	"github.com/odyssey-erp/gatekeeper/internal/app"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv(app.TestModeEnv) == "" {
			_ = os.Setenv(app.TestModeEnv, "1")
		}
	})
}
