package echoutil_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
	"github.com/opst/orchestration/pkg/utils/echoutil"
)

func TestSetLevel(t *testing.T) {
	for level, expected := range map[string]log.Lvl{
		"debug":  log.DEBUG,
		"info":   log.INFO,
		"":       log.WARN,
		"warn":   log.WARN,
		"error":  log.ERROR,
		"off":    log.OFF,
		"chatty": log.WARN,
	} {
		t.Run("level "+level, func(t *testing.T) {
			e := echo.New()
			echoutil.SetLevel(e, level)
			if actual := e.Logger.Level(); actual != expected {
				t.Errorf("unexpected level: (expected, actual) = (%d, %d)", expected, actual)
			}
		})
	}
}

func TestLogHandlerFunc(t *testing.T) {
	e := echo.New()
	called := false
	handler := echoutil.LogHandlerFunc(func(c echo.Context) error {
		called = true
		return c.NoContent(http.StatusTeapot)
	})

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/healthz", nil), rec)
	if err := handler(c); err != nil {
		t.Fatal(err)
	}
	if !called || rec.Code != http.StatusTeapot {
		t.Errorf("handler is not called through: %v, %d", called, rec.Code)
	}
}
