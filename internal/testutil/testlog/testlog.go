package testlog

import (
	"testing"

	logs "github.com/danmuck/qbridge/internal/logging"
)

func Start(t *testing.T) {
	t.Helper()
	logs.Configure(logs.ProfileTest)
	logs.Infof("test=%s", t.Name())
}
