package query

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cube2222/raftkv"
	"github.com/cube2222/raftkv/db"
	"github.com/gorilla/mux"
	"github.com/hashicorp/go-hclog"
)

func apply(t *testing.T, handler db.QueryHandler, index int64, data []byte) error {
	t.Helper()
	return handler.Apply(&raft.Entry{Index: index, Term: 1, Data: data})
}

func put(t *testing.T, key, value string) []byte {
	t.Helper()
	data, err := db.EncodePut(key, value)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestApply(t *testing.T) {
	handler := NewQueryHandler(hclog.NewNullLogger())

	if err := apply(t, handler, 1, put(t, "a", "1")); err != nil {
		t.Fatal(err)
	}
	if err := apply(t, handler, 2, put(t, "b", "2")); err != nil {
		t.Fatal(err)
	}
	if err := apply(t, handler, 3, put(t, "a", "3")); err != nil {
		t.Fatal(err)
	}
	del, _ := db.EncodeDelete("b")
	if err := apply(t, handler, 4, del); err != nil {
		t.Fatal(err)
	}

	data := handler.Data()
	if len(data) != 1 || data["a"] != "3" {
		t.Errorf("state = %v", data)
	}
	if _, ok := handler.Get("b"); ok {
		t.Error("deleted key still present")
	}
}

func TestApplyRejectsGarbage(t *testing.T) {
	handler := NewQueryHandler(hclog.NewNullLogger())

	for _, data := range [][]byte{
		[]byte("not json"),
		[]byte(`{"type":"explode","operation":{}}`),
		[]byte(`{"type":"put","operation":{"key":""}}`),
	} {
		if err := apply(t, handler, 1, data); err == nil {
			t.Errorf("expected %s to be rejected", data)
		}
	}
	if len(handler.Data()) != 0 {
		t.Errorf("rejected entries changed state: %v", handler.Data())
	}
}

func TestSnapshotRestore(t *testing.T) {
	source := NewQueryHandler(hclog.NewNullLogger())
	apply(t, source, 1, put(t, "x", "1"))
	apply(t, source, 2, put(t, "y", "2"))

	snapshot, err := source.Snapshot()
	if err != nil {
		t.Fatal(err)
	}

	target := NewQueryHandler(hclog.NewNullLogger())
	apply(t, target, 1, put(t, "stale", "value"))
	if err := target.Restore(snapshot); err != nil {
		t.Fatal(err)
	}

	data := target.Data()
	if len(data) != 2 || data["x"] != "1" || data["y"] != "2" {
		t.Errorf("restored state = %v", data)
	}

	if err := target.Restore(nil); err != nil {
		t.Fatal(err)
	}
	if len(target.Data()) != 0 {
		t.Error("empty snapshot should clear the state")
	}
}

func TestHTTPReads(t *testing.T) {
	handler := NewQueryHandler(hclog.NewNullLogger())
	apply(t, handler, 1, put(t, "greeting", "hello"))

	router := mux.NewRouter()
	handler.Register(router)
	server := httptest.NewServer(router)
	defer server.Close()

	res, err := http.Get(server.URL + "/kv/greeting")
	if err != nil {
		t.Fatal(err)
	}
	var body map[string]string
	json.NewDecoder(res.Body).Decode(&body)
	res.Body.Close()
	if res.StatusCode != http.StatusOK || body["value"] != "hello" {
		t.Errorf("GET /kv/greeting = %d %v", res.StatusCode, body)
	}

	res, err = http.Get(server.URL + "/kv/missing")
	if err != nil {
		t.Fatal(err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusNotFound {
		t.Errorf("GET /kv/missing = %d", res.StatusCode)
	}

	res, err = http.Get(server.URL + "/kv")
	if err != nil {
		t.Fatal(err)
	}
	var all map[string]string
	json.NewDecoder(res.Body).Decode(&all)
	res.Body.Close()
	if len(all) != 1 || all["greeting"] != "hello" {
		t.Errorf("GET /kv = %v", all)
	}
}
