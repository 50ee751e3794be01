package main

import (
	"context"
	"reflect"
	"testing"

	"go.uber.org/zap"

	"installops/internal/config"
)

func TestSplitCSV(t *testing.T) {
	cases := map[string][]string{
		"":           nil,
		"  ":         nil,
		"a":          {"a"},
		" a, b ,,c ": {"a", "b", "c"},
	}
	for in, want := range cases {
		if got := splitCSV(in); !reflect.DeepEqual(got, want) {
			t.Fatalf("splitCSV(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestRun_UnknownCommand(t *testing.T) {
	err := run(context.Background(), &config.Config{}, zap.NewNop(), "explode", nil)
	if err == nil {
		t.Fatalf("expected unknown command error")
	}
}
