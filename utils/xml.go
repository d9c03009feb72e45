package utils

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"regexp"
	"strings"
)

// DecodeXML decodes the XML document into output. The entities declared in the document DOCTYPE
// are expanded before decoding.
func DecodeXML(output interface{}, data []byte) error {
	data = expandEntities(data, declaredEntities(data))
	if err := xml.NewDecoder(bytes.NewReader(data)).Decode(output); err != nil {
		return fmt.Errorf("decode xml: %w", err)
	}
	return nil
}

// expandEntities replaces the entity references with their values.
func expandEntities(data []byte, entities map[string]string) []byte {
	if len(entities) == 0 {
		return data
	}
	oldnew := make([]string, 0, 2*len(entities))
	for entity, value := range entities {
		oldnew = append(oldnew, "&"+entity+";", value)
	}
	return []byte(strings.NewReplacer(oldnew...).Replace(string(data)))
}

// declaredEntities returns the internal entities of the document DOCTYPE.
func declaredEntities(data []byte) map[string]string {
	entities := make(map[string]string)
	for _, match := range entityDeclRegex.FindAllSubmatch(data, -1) {
		entities[string(match[1])] = string(match[2])
	}
	return entities
}

var entityDeclRegex = regexp.MustCompile(`<!ENTITY\s+(\S+)\s+"([^"]*)"\s*>`)
