package output

import (
	"fmt"
	"strings"

	"github.com/fulmenhq/gofulmen/ascii"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/dogshouse/dogshouse/internal/core"
)

const emptyDogsMessage = "(no dogs found)"

// TableFormatter renders dogs as an ASCII table.
type TableFormatter struct{}

// FormatDogs renders dogs as a table, or a boxed notice when there are none.
func (f *TableFormatter) FormatDogs(dogs []core.Dog) (string, error) {
	if len(dogs) == 0 {
		return ascii.DrawBox(strings.Join([]string{"Dogs", "", emptyDogsMessage}, "\n"), 0), nil
	}

	t := dogsTable(dogs)
	t.SetStyle(table.StyleRounded)
	return t.Render(), nil
}

func dogsTable(dogs []core.Dog) table.Writer {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"Name", "Color", "Tail Length", "Weight"})
	for _, dog := range dogs {
		t.AppendRow(table.Row{dog.Name, dog.Color, dog.TailLength, dog.Weight})
	}
	t.AppendFooter(table.Row{"", "", "Total", fmt.Sprintf("%d", len(dogs))})
	return t
}
