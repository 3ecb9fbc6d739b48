package ws

import (
	"github.com/antonmedv/expr"
	"github.com/antonmedv/expr/vm"
	"github.com/voxchat/voxchat/filter"
	"github.com/voxchat/voxchat/globals"
	"github.com/voxchat/voxchat/types"
)

func compileMessageFilter(source string) *vm.Program {
	if source == "" {
		return nil
	}
	prog, err := expr.Compile(source, expr.Env(filter.Env{}))
	if err != nil {
		globals.AppLogger.Error("could not compile message filter", "error", err)
		return nil
	}
	return prog
}

// RejectsMessage reports whether the configured message filter drops the message.
// A broken filter never rejects.
func (h *Hub) RejectsMessage(message *types.Message) bool {
	if h.filterProg == nil {
		return false
	}
	env := filter.Env{
		Sender: message.Sender,
		Text:   message.Text,
		Image:  message.Image,
		Type:   message.Type,
		Target: message.Target,
	}
	res, err := expr.Run(h.filterProg, env)
	if err != nil {
		globals.AppLogger.Error("could not run message filter", "error", err)
		return false
	}
	if bRes, ok := res.(bool); ok {
		return bRes
	}
	return false
}
