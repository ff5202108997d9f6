package scenario

import (
	"fmt"
	"strconv"

	"github.com/awalterschulze/gographviz"
)

const graphName = "scenario"

// Graph はシナリオのステップ列をDOT形式で返す
// start -> step_1 -> ... -> step_n -> end の一本道になる
func Graph(s Scenario, labels Labels) (string, error) {
	g := gographviz.NewGraph()
	if err := g.SetName(graphName); err != nil {
		return "", err
	}
	if err := g.SetDir(true); err != nil {
		return "", err
	}
	if err := g.AddAttr(graphName, "rankdir", "LR"); err != nil {
		return "", fmt.Errorf("failed to set rankdir: %w", err)
	}
	if err := g.AddAttr(graphName, "label", strconv.Quote(s.Name)); err != nil {
		return "", fmt.Errorf("failed to set graph label: %w", err)
	}

	if err := g.AddNode(graphName, "start", map[string]string{"shape": "circle", "label": `"start"`}); err != nil {
		return "", err
	}

	prev := "start"
	for _, st := range s.Ordered() {
		name := fmt.Sprintf("step_%d", st.Order)
		if err := g.AddNode(graphName, name, stepAttrs(st, labels)); err != nil {
			return "", fmt.Errorf("failed to add step %d: %w", st.Order, err)
		}
		if err := g.AddEdge(prev, name, true, nil); err != nil {
			return "", fmt.Errorf("failed to link step %d: %w", st.Order, err)
		}
		prev = name
	}

	if err := g.AddNode(graphName, "end", map[string]string{"shape": "doublecircle", "label": `"end"`}); err != nil {
		return "", err
	}
	if err := g.AddEdge(prev, "end", true, nil); err != nil {
		return "", err
	}

	return g.String(), nil
}

// stepAttrs はステップノードの属性を組み立てる
func stepAttrs(st Step, labels Labels) map[string]string {
	label := fmt.Sprintf("%d. %s\n%d pts", st.Order, labels.Label(st.ActionType), st.PointValue)
	if st.HasExpectedValue() {
		label += fmt.Sprintf("\nvalue: %s", st.ExpectedValue)
	}
	if st.Timed() {
		label += fmt.Sprintf("\nlimit: %ds", st.TimeLimitSeconds)
	}

	attrs := map[string]string{
		"shape": "box",
		"label": strconv.Quote(label),
	}
	if st.IsCritical {
		attrs["color"] = "red"
		attrs["penwidth"] = "2"
	}
	return attrs
}
