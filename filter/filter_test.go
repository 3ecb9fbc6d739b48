package filter

import (
	"testing"

	"github.com/antonmedv/expr"
	"github.com/stretchr/testify/assert"
)

func TestMessageFilterEnv(t *testing.T) {
	prog, err := expr.Compile(`Text contains "spam" and Type == "general"`, expr.Env(Env{}))
	if err != nil {
		t.Fatal(err)
	}

	res, err := expr.Run(prog, Env{Sender: "mallory", Text: "buy spam now", Type: "general"})
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, true, res)

	res, err = expr.Run(prog, Env{Sender: "alice", Text: "hello", Type: "general"})
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, false, res)

	// private messages pass this particular filter regardless of text
	res, err = expr.Run(prog, Env{Sender: "mallory", Text: "buy spam now", Type: "private", Target: "bob"})
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, false, res)
}
