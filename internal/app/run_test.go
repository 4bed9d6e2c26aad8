package app

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hitoshi/relnotify/internal/model"
)

// setSQLiteEnv は一時ディレクトリのSQLiteとログ通知チャネルを使う環境変数を設定する。
// 外部ソースへの接続先は到達できないアドレスにする。
func setSQLiteEnv(t *testing.T) string {
	t.Helper()
	dbURL := "sqlite://" + filepath.Join(t.TempDir(), "relnotify.db")
	t.Setenv("DATABASE_URL", dbURL)
	t.Setenv("NOTIFY_CHANNEL", "log")
	t.Setenv("TELEGRAM_BOT_TOKEN", "")
	t.Setenv("SHIKIMORI_URL", "http://127.0.0.1:1")
	t.Setenv("MANGAUPDATES_URL", "http://127.0.0.1:1")
	t.Setenv("ANIME_NOT_BEFORE", "00:00")
	t.Setenv("FETCH_TIMEOUT", "1s")
	return dbURL
}

func migrateForTest(t *testing.T) {
	t.Helper()
	var logBuf bytes.Buffer
	if err := run(&logBuf, &bytes.Buffer{}, []string{"migrate"}); err != nil {
		t.Fatalf("migrate failed: %v\nlog: %s", err, logBuf.String())
	}
}

func TestRun_WithMissingEnv_ReturnsError(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("TELEGRAM_BOT_TOKEN", "")

	var buf bytes.Buffer
	if err := Run(&buf, []string{"serve"}); err == nil {
		t.Fatal("Run with missing env should return error")
	}
}

func TestRun_UnknownCommand_ReturnsError(t *testing.T) {
	var buf bytes.Buffer
	err := Run(&buf, []string{"deploy"})
	if err == nil {
		t.Fatal("Run with unknown command should return error")
	}
	if !strings.Contains(err.Error(), "usage:") {
		t.Errorf("error should include usage: %v", err)
	}
}

func TestRun_UnsupportedDatabase_ReturnsError(t *testing.T) {
	t.Setenv("DATABASE_URL", "mysql://localhost/relnotify")
	t.Setenv("NOTIFY_CHANNEL", "log")

	var buf bytes.Buffer
	if err := Run(&buf, []string{"status"}); err == nil {
		t.Fatal("Run with unsupported database should return error")
	}
}

func TestRun_RunOnce_EmptyDatabase(t *testing.T) {
	setSQLiteEnv(t)
	migrateForTest(t)

	var logBuf, out bytes.Buffer
	if err := run(&logBuf, &out, []string{"run-once"}); err != nil {
		t.Fatalf("run-once failed: %v\nlog: %s", err, logBuf.String())
	}

	for _, want := range []string{"anime", "manga", "OK"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("run-once output should contain %q:\n%s", want, out.String())
		}
	}
}

func TestRun_RunOnce_DisabledKindIsOmitted(t *testing.T) {
	setSQLiteEnv(t)
	t.Setenv("MANGA_ENABLED", "false")
	migrateForTest(t)

	var logBuf, out bytes.Buffer
	if err := run(&logBuf, &out, []string{"run-once"}); err != nil {
		t.Fatalf("run-once failed: %v", err)
	}
	if strings.Contains(out.String(), "manga") {
		t.Errorf("disabled kind should not be reported:\n%s", out.String())
	}
}

func TestRun_Status_EmptyDatabase(t *testing.T) {
	setSQLiteEnv(t)
	migrateForTest(t)

	var logBuf, out bytes.Buffer
	if err := run(&logBuf, &out, []string{"status", "anime"}); err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if !strings.Contains(out.String(), "外部ID") {
		t.Errorf("status output should contain header:\n%s", out.String())
	}
}

func TestRun_Status_InvalidKind(t *testing.T) {
	setSQLiteEnv(t)
	migrateForTest(t)

	var logBuf, out bytes.Buffer
	err := run(&logBuf, &out, []string{"status", "novel"})
	assertRunAPIError(t, err, model.ErrCodeInvalidKind)
}

func TestRun_Subscribe_InvalidKind(t *testing.T) {
	setSQLiteEnv(t)
	migrateForTest(t)

	var logBuf, out bytes.Buffer
	err := run(&logBuf, &out, []string{"subscribe", "42", "novel", "1"})
	assertRunAPIError(t, err, model.ErrCodeInvalidKind)
}

func TestRun_Subscribe_InvalidTelegramID(t *testing.T) {
	setSQLiteEnv(t)
	migrateForTest(t)

	var logBuf, out bytes.Buffer
	if err := run(&logBuf, &out, []string{"subscribe", "me", "anime", "1"}); err == nil {
		t.Fatal("subscribe with non-numeric telegram id should return error")
	}
}

func TestRun_Subscribe_UpstreamUnreachable(t *testing.T) {
	setSQLiteEnv(t)
	migrateForTest(t)

	var logBuf, out bytes.Buffer
	err := run(&logBuf, &out, []string{"subscribe", "42", "anime", "5114"})
	assertRunAPIError(t, err, model.ErrCodeUpstreamUnavailable)
}

func TestRun_Unsubscribe_NotSubscribed(t *testing.T) {
	setSQLiteEnv(t)
	migrateForTest(t)

	var logBuf, out bytes.Buffer
	err := run(&logBuf, &out, []string{"unsubscribe", "42", "manga", "abc"})
	assertRunAPIError(t, err, model.ErrCodeSubscriptionNotFound)
}

func TestRunHealthcheck(t *testing.T) {
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ok.Close()

	unavailable := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer unavailable.Close()

	if err := checkHealth(ok.URL + "/health"); err != nil {
		t.Errorf("checkHealth(ok) = %v, want nil", err)
	}
	if err := checkHealth(unavailable.URL + "/health"); err == nil {
		t.Error("checkHealth(unavailable) should return error")
	}
	if err := runHealthcheck("1"); err == nil {
		t.Error("runHealthcheck on closed port should return error")
	}
}

func assertRunAPIError(t *testing.T, err error, code string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected APIError %s, got nil", code)
	}
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *model.APIError, got %T: %v", err, err)
	}
	if apiErr.Code != code {
		t.Errorf("Code = %q, want %q", apiErr.Code, code)
	}
}
