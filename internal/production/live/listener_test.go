package live

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/google/uuid"

	"atelier_backend/migrations"
)

func TestTriggerNotifiesListenedChannel(t *testing.T) {
	sql, err := fs.ReadFile(migrations.FS, "00002_change_notifications.sql")
	if err != nil {
		t.Fatalf("read migration: %v", err)
	}
	if !strings.Contains(string(sql), "pg_notify('"+ChangeChannel+"'") {
		t.Fatalf("trigger does not notify channel %q", ChangeChannel)
	}
}

func TestParseChange(t *testing.T) {
	id := uuid.New()
	got, ok := parseChange(`{"table":"work_units","orderId":"` + id.String() + `"}`)
	if !ok || got != id {
		t.Fatalf("parseChange = %s, %v", got, ok)
	}
	for _, payload := range []string{"", "not json", `{"table":"orders"}`} {
		if _, ok := parseChange(payload); ok {
			t.Errorf("payload %q should be rejected", payload)
		}
	}
}
