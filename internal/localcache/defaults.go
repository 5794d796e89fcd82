package localcache

import (
	"encoding/json"

	"github.com/stemsi/exot-sync/internal/model"
)

// defaultPayload returns what a collection holds before anything was
// written or pulled.
func defaultPayload(c model.Collection) json.RawMessage {
	var v any
	switch c {
	case model.CollectionUsers:
		v = []model.User{model.DefaultAdmin()}
	case model.CollectionClasses:
		v = model.DefaultClasses()
	case model.CollectionSettings:
		v = model.DefaultSettings()
	default:
		return json.RawMessage(`[]`)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		// The defaults are static values.
		panic(err)
	}
	return raw
}
