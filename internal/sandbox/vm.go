package sandbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dop251/goja"
)

// HTMLOutputVar is the global a capture-mode program assigns to hand back
// an HTML fragment.
const HTMLOutputVar = "__html_output__"

// builtinsVar holds the read-only view of the capability table inside a
// restricted runtime.
const builtinsVar = "__builtins__"

// functionConstructorGuard replaces the constructor reachable from every
// function prototype, so `(function(){}).constructor("...")` cannot compile
// new code once the Function global is gone.
const functionConstructorGuard = `(function(TypeError) {
	var blocked = function() { throw new TypeError("Function constructor is disabled"); };
	var protos = [Function.prototype];
	try { protos.push(Object.getPrototypeOf(Function("return function*(){}")())); } catch (e) {}
	try { protos.push(Object.getPrototypeOf(Function("return async function(){}")())); } catch (e) {}
	protos.forEach(function(p) {
		Object.defineProperty(p, "constructor", { value: blocked, writable: false, configurable: false });
	});
})(TypeError);`

// globalNames lists every own property of the global object, including the
// non-enumerable standard globals.
const globalNames = `Object.getOwnPropertyNames(this)`

// newRestrictedRuntime builds the namespace screened programs run in: every
// standard global is removed and only the capability table is installed.
// The Error constructors go too, so `new RangeError(...)` is a ReferenceError
// there, the same way an exception class is an unknown name to a restricted
// builtins table. Thrown strings and plain objects still work.
func newRestrictedRuntime(cfg Config, streams *Streams) (*goja.Runtime, error) {
	vm := goja.New()
	applyLimits(vm, cfg)

	if _, err := vm.RunString(functionConstructorGuard); err != nil {
		return nil, fmt.Errorf("failed to install function guard: %w", err)
	}

	names, err := vm.RunString(globalNames)
	if err != nil {
		return nil, fmt.Errorf("failed to list globals: %w", err)
	}
	var globals []string
	if err := vm.ExportTo(names, &globals); err != nil {
		return nil, fmt.Errorf("failed to list globals: %w", err)
	}

	global := vm.GlobalObject()
	for _, name := range globals {
		// Non-configurable globals (undefined, NaN, Infinity) stay.
		_ = global.Delete(name)
	}

	if err := installBuiltins(vm, streams); err != nil {
		return nil, err
	}
	return vm, nil
}

// newFullRuntime builds the unrestricted namespace used by the capture
// pipeline: the whole goja environment plus print and console.
func newFullRuntime(cfg Config, streams *Streams) (*goja.Runtime, error) {
	vm := goja.New()
	applyLimits(vm, cfg)

	e := &env{vm: vm, streams: streams}
	if err := vm.Set("print", e.print); err != nil {
		return nil, err
	}

	console := vm.NewObject()
	methods := map[string]func(string){
		"log":   streams.WriteStdout,
		"info":  streams.WriteStdout,
		"debug": streams.WriteStdout,
		"warn":  streams.WriteStderr,
		"error": streams.WriteStderr,
	}
	for name, write := range methods {
		if err := console.Set(name, e.writer(write)); err != nil {
			return nil, err
		}
	}
	if err := vm.Set("console", console); err != nil {
		return nil, err
	}
	return vm, nil
}

func applyLimits(vm *goja.Runtime, cfg Config) {
	if cfg.MaxCallStack > 0 {
		vm.SetMaxCallStackSize(cfg.MaxCallStack)
	}
}

// runProgram executes prg on vm and interrupts it when ctx ends or the
// timeout elapses. The interrupt value becomes the fault message.
func runProgram(ctx context.Context, vm *goja.Runtime, prg *goja.Program, timeout time.Duration) error {
	_, err := runValue(ctx, vm, prg, timeout)
	return err
}

// runValue is runProgram returning the completion value.
func runValue(ctx context.Context, vm *goja.Runtime, prg *goja.Program, timeout time.Duration) (goja.Value, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	done := make(chan struct{})
	defer close(done)

	go func() {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				vm.Interrupt(ErrTimeout)
			} else {
				vm.Interrupt(ctx.Err())
			}
		case <-done:
		}
	}()

	return vm.RunProgram(prg)
}

// faultMessage is the one-line description of err used by the screened
// pipeline: the thrown Error's message, the thrown value, or the compiler text.
func faultMessage(err error) string {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		return fmt.Sprint(interrupted.Value())
	}

	var overflow *goja.StackOverflowError
	if errors.As(err, &overflow) {
		return "maximum call stack size exceeded"
	}

	var ex *goja.Exception
	if errors.As(err, &ex) && ex.Value() != nil {
		if obj, ok := ex.Value().(*goja.Object); ok {
			if msg := obj.Get("message"); msg != nil && !goja.IsUndefined(msg) {
				return msg.String()
			}
		}
		return ex.Value().String()
	}

	var syntaxErr *goja.CompilerSyntaxError
	if errors.As(err, &syntaxErr) {
		return syntaxErr.Message
	}
	return err.Error()
}

// faultTrace is the multi-line report used by the capture pipeline.
func faultTrace(err error) string {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		return interrupted.String()
	}

	var overflow *goja.StackOverflowError
	if errors.As(err, &overflow) {
		return "RangeError: maximum call stack size exceeded\n" + overflow.String()
	}

	var ex *goja.Exception
	if errors.As(err, &ex) {
		return ex.String()
	}
	return err.Error()
}

// recoverFault turns a Go panic that escaped the runtime into an error.
func recoverFault(r interface{}) error {
	if err, ok := r.(error); ok {
		return fmt.Errorf("%w: %v", ErrInternal, err)
	}
	return fmt.Errorf("%w: %v", ErrInternal, r)
}
