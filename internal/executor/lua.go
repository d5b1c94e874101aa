package executor

import (
	"bytes"
	"context"
	"os"

	lua "github.com/yuin/gopher-lua"
	"github.com/technosupport/flowforge/internal/store"
)

// luaRunner executes "lua" script-type steps in process via gopher-lua
// instead of spawning a subprocess or container, avoiding that overhead
// for the one interpreter that can be embedded directly.
type luaRunner struct{}

func newLuaRunner() *luaRunner { return &luaRunner{} }

func (r *luaRunner) run(ctx context.Context, req Request) Result {
	L := lua.NewState()
	defer L.Close()
	L.SetContext(ctx)

	params := L.NewTable()
	for k, v := range req.Parameters {
		L.SetField(params, k, lua.LString(v))
	}
	L.SetGlobal("parameters", params)

	var out bytes.Buffer
	L.SetGlobal("print", L.NewFunction(func(L *lua.LState) int {
		n := L.GetTop()
		for i := 1; i <= n; i++ {
			out.WriteString(L.ToStringMeta(L.Get(i)).String())
			if i < n {
				out.WriteString("\t")
			}
		}
		out.WriteString("\n")
		return 0
	}))

	var src []byte
	var err error
	if req.ScriptPath != "" {
		src, err = os.ReadFile(req.ScriptPath)
		if err != nil {
			return Result{Status: store.StatusFailed, Error: err.Error()}
		}
	} else {
		src = []byte(req.RunCommand)
	}

	if err := L.DoString(string(src)); err != nil {
		if ctx.Err() != nil {
			return Result{Status: store.StatusTimeout, Output: out.String(), Error: "lua execution timed out"}
		}
		return Result{Status: store.StatusFailed, Output: out.String(), Error: err.Error()}
	}

	return Result{Success: true, Status: store.StatusCompleted, Output: out.String(), ReturnCode: 0}
}
