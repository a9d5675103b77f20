package output

import (
	"encoding/json"

	"github.com/dogshouse/dogshouse/internal/core"
)

// JSONFormatter renders dogs the way GET /dogs returns them.
type JSONFormatter struct {
	Indent bool
}

// FormatDogs renders dogs as a JSON array. A nil slice renders as [].
func (f *JSONFormatter) FormatDogs(dogs []core.Dog) (string, error) {
	if dogs == nil {
		dogs = []core.Dog{}
	}

	var (
		data []byte
		err  error
	)

	if f.Indent {
		data, err = json.MarshalIndent(dogs, "", "  ")
	} else {
		data, err = json.Marshal(dogs)
	}
	if err != nil {
		return "", err
	}

	return string(data), nil
}
