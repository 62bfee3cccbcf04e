package storage

import (
	jsoniter "github.com/json-iterator/go"
)

var jsonit = jsoniter.ConfigCompatibleWithStandardLibrary

// EncodeSidecar renders a metadata document as the JSON sidecar
// payload shared by all backends.
func EncodeSidecar(doc map[string]interface{}) ([]byte, error) {
	return jsonit.MarshalIndent(doc, "", "  ")
}

// DecodeSidecar parses a JSON sidecar payload back into a metadata
// document.
func DecodeSidecar(data []byte) (map[string]interface{}, error) {
	var doc map[string]interface{}
	if err := jsonit.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}
