package util

import (
	"reflect"
	"strings"
	"testing"

	"github.com/ValentinKolb/dPersist/lib/mapstore"
	"github.com/ValentinKolb/dPersist/rpc/common"
)

func TestParseMaps(t *testing.T) {
	testCases := []struct {
		name    string
		input   string
		want    []common.ServerShard
		wantErr bool
	}{
		{
			name:  "single map",
			input: "100=users",
			want:  []common.ServerShard{{ShardID: 100, MapName: "users"}},
		},
		{
			name:  "multiple maps with spaces",
			input: " 100 = users, 200=orders ,",
			want: []common.ServerShard{
				{ShardID: 100, MapName: "users"},
				{ShardID: 200, MapName: "orders"},
			},
		},
		{name: "missing name", input: "100=", wantErr: true},
		{name: "missing separator", input: "100", wantErr: true},
		{name: "invalid id", input: "abc=users", wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseMaps(tc.input)
			if tc.wantErr {
				if err == nil {
					t.Errorf("Expected an error for %q, got %v", tc.input, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("Expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestParseProperties(t *testing.T) {
	props, err := ParseProperties([]string{
		"mapstore.pool.size=8",
		" redis.url = redis://localhost:6379/0",
		"mapstore.table=",
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	want := mapstore.Properties{
		"mapstore.pool.size": "8",
		"redis.url":          "redis://localhost:6379/0",
		"mapstore.table":     "",
	}
	if !reflect.DeepEqual(props, want) {
		t.Errorf("Expected %v, got %v", want, props)
	}

	for _, bad := range []string{"novalue", "=value"} {
		if _, err := ParseProperties([]string{bad}); err == nil {
			t.Errorf("Expected an error for %q", bad)
		}
	}
}

func TestSplitList(t *testing.T) {
	got := SplitList(" a, ,b,,c ")
	if !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Errorf("Unexpected split: %v", got)
	}
	if SplitList("") != nil {
		t.Error("Expected nil for an empty list")
	}
}

func TestWrapString(t *testing.T) {
	text := strings.Repeat("word ", 40)
	for _, line := range strings.Split(WrapString(text), "\n") {
		if len(line) > Wrap {
			t.Errorf("Line exceeds %d characters: %q", Wrap, line)
		}
	}
}
