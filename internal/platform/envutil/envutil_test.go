package envutil

import (
	"testing"
	"time"
)

func TestDuration(t *testing.T) {
	t.Setenv("X_DUR", "90s")
	if got := Duration("X_DUR", time.Second); got != 90*time.Second {
		t.Fatalf("Duration: want=90s got=%s", got)
	}
	t.Setenv("X_DUR", "15")
	if got := Duration("X_DUR", time.Second); got != 15*time.Second {
		t.Fatalf("Duration bare seconds: want=15s got=%s", got)
	}
	t.Setenv("X_DUR", "soon")
	if got := Duration("X_DUR", time.Second); got != time.Second {
		t.Fatalf("Duration fallback: want=1s got=%s", got)
	}
}

func TestBoolAndFloat(t *testing.T) {
	t.Setenv("X_BOOL", "off")
	if Bool("X_BOOL", true) {
		t.Fatalf("Bool: want false")
	}
	t.Setenv("X_BOOL", "maybe")
	if !Bool("X_BOOL", true) {
		t.Fatalf("Bool fallback: want true")
	}
	t.Setenv("X_FLOAT", "0.25")
	if got := Float("X_FLOAT", 1); got != 0.25 {
		t.Fatalf("Float: want=0.25 got=%v", got)
	}
	if got := String("X_MISSING_STRING", "dflt"); got != "dflt" {
		t.Fatalf("String fallback: want=dflt got=%q", got)
	}
}
