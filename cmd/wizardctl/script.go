package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	wizard "github.com/goliatone/go-wizard"
)

// Script is an ordered list of wizard operations replayed against a session.
type Script struct {
	Ops []ScriptOp `json:"ops" yaml:"ops"`
}

// ScriptOp is one operation. Step is used by set and jump, Payload by set.
// Fail makes a submit call its submitter with an error of that text.
// Expect, when set, is the error code the operation must produce.
type ScriptOp struct {
	Op      string `json:"op" yaml:"op"`
	Step    string `json:"step,omitempty" yaml:"step,omitempty"`
	Payload any    `json:"payload,omitempty" yaml:"payload,omitempty"`
	Fail    string `json:"fail,omitempty" yaml:"fail,omitempty"`
	Expect  string `json:"expect,omitempty" yaml:"expect,omitempty"`
}

// StepOutcome is printed as one JSON line per executed operation.
type StepOutcome struct {
	Seq      int             `json:"seq"`
	Op       string          `json:"op"`
	Step     string          `json:"step,omitempty"`
	Code     string          `json:"code,omitempty"`
	Reason   string          `json:"reason,omitempty"`
	Error    string          `json:"error,omitempty"`
	Result   any             `json:"result,omitempty"`
	Snapshot wizard.Snapshot `json:"snapshot"`
}

// ErrExpectationFailed marks a script op whose outcome differed from Expect.
var ErrExpectationFailed = errors.New("script expectation failed")

func loadScript(path string) (Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Script{}, fmt.Errorf("read script: %w", err)
	}
	return parseScript(data)
}

func parseScript(data []byte) (Script, error) {
	var script Script
	if err := yaml.Unmarshal(data, &script); err != nil {
		return script, fmt.Errorf("parse script: %w", err)
	}
	for idx, op := range script.Ops {
		switch normalizeOp(op.Op) {
		case "set", "jump":
			if strings.TrimSpace(op.Step) == "" {
				return script, fmt.Errorf("ops[%d] %s: step is required", idx, op.Op)
			}
		case "next", "back", "submit", "reset":
		default:
			return script, fmt.Errorf("ops[%d]: unknown op %q", idx, op.Op)
		}
	}
	return script, nil
}

func normalizeOp(op string) string {
	return strings.ToLower(strings.TrimSpace(op))
}

// replay executes script against w and writes one outcome per op. Operation
// errors are reported in the outcome, not returned, unless they contradict an
// explicit Expect.
func replay(ctx context.Context, w *wizard.Wizard, script Script, out io.Writer) error {
	enc := json.NewEncoder(out)
	for idx, op := range script.Ops {
		outcome := StepOutcome{Seq: idx + 1, Op: normalizeOp(op.Op), Step: op.Step}

		var err error
		switch outcome.Op {
		case "set":
			err = w.SetPayload(op.Step, op.Payload)
		case "next":
			err = w.GoNext()
		case "back":
			err = w.GoBack()
		case "jump":
			err = w.JumpTo(op.Step)
		case "reset":
			err = w.Reset()
		case "submit":
			var res *wizard.SubmissionResult
			res, err = w.Submit(ctx, scriptSubmitter(op.Fail))
			if res != nil {
				outcome.Result = res.Value
			}
		}

		if err != nil {
			outcome.Code = wizard.ErrorCode(err)
			outcome.Error = err.Error()
			if reason, ok := wizard.ValidationReason(err); ok {
				outcome.Reason = reason
			}
		}
		outcome.Snapshot = w.Snapshot()
		if encErr := enc.Encode(outcome); encErr != nil {
			return fmt.Errorf("write outcome: %w", encErr)
		}

		if op.Expect != "" && !strings.EqualFold(op.Expect, outcome.Code) {
			return fmt.Errorf("%w: ops[%d] %s expected %q, got %q", ErrExpectationFailed, idx, outcome.Op, op.Expect, outcome.Code)
		}
		if op.Expect == "" && err != nil && ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return nil
}

func scriptSubmitter(fail string) wizard.Submitter {
	return wizard.SubmitFunc(func(ctx context.Context, composite map[string]any) (any, error) {
		if fail != "" {
			return nil, errors.New(fail)
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return map[string]any{"accepted": true, "steps": len(composite)}, nil
	})
}
