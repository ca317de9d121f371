package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/Maughan-Lab/fabrial-sub000/internal/engine"
	"github.com/Maughan-Lab/fabrial-sub000/internal/streaming"
	"github.com/Maughan-Lab/fabrial-sub000/pkg/schema"
)

// operator is the part of a sequence runner the console drives.
type operator interface {
	Respond(choice string) error
	Command(name string) (bool, error)
}

// console prints engine events and turns input lines into prompt responses
// or operator commands.
type console struct {
	in  io.Reader
	out io.Writer
}

// watch runs until ctx ends. A line answers the open prompt, either by option
// number or by text; otherwise it is tried as an operator command.
func (c *console) watch(ctx context.Context, hub streaming.EventHub, op operator) error {
	events, cancel, err := hub.Subscribe(ctx, streaming.EventFilter{})
	if err != nil {
		return err
	}
	defer cancel()

	lines := make(chan string)
	go func() {
		sc := bufio.NewScanner(c.in)
		for sc.Scan() {
			select {
			case lines <- strings.TrimSpace(sc.Text()):
			case <-ctx.Done():
				return
			}
		}
	}()

	var options []string
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return ctx.Err()
			}
			switch ev.Type {
			case schema.EventPrompt:
				options = ev.Options
			case schema.EventPromptResolved, schema.EventStepFinished:
				options = nil
			}
			c.print(ev)
		case line := <-lines:
			if line == "" {
				continue
			}
			c.handle(line, options, op)
		}
	}
}

func (c *console) handle(line string, options []string, op operator) {
	if len(options) > 0 {
		choice := line
		if n, err := strconv.Atoi(line); err == nil && n >= 1 && n <= len(options) {
			choice = options[n-1]
		}
		if err := op.Respond(choice); err != nil {
			fmt.Fprintf(c.out, "! %v\n", err)
		}
		return
	}
	applied, err := op.Command(strings.ToLower(line))
	switch {
	case err != nil:
		fmt.Fprintf(c.out, "! %v (commands: %s, %s, %s, %s)\n", err,
			engine.CommandPause, engine.CommandUnpause, engine.CommandSkip, engine.CommandCancel)
	case !applied:
		fmt.Fprintf(c.out, "! %s had no effect\n", line)
	}
}

func (c *console) print(ev schema.Event) {
	ts := ev.Timestamp.Format("15:04:05")
	switch ev.Type {
	case schema.EventPrompt:
		fmt.Fprintf(c.out, "%s ? %s\n", ts, ev.Message)
		for i, opt := range ev.Options {
			fmt.Fprintf(c.out, "    %d) %s\n", i+1, opt)
		}
	case schema.EventError:
		fmt.Fprintf(c.out, "%s ! %s: %s\n", ts, ev.Step, ev.Message)
	case schema.EventStepStarted, schema.EventBackgroundStarted:
		fmt.Fprintf(c.out, "%s > %s (%s)\n", ts, ev.Step, ev.Directory)
	case schema.EventStepStatus:
		fmt.Fprintf(c.out, "%s   %s is %s\n", ts, ev.Step, ev.Status)
	case schema.EventStepFinished, schema.EventBackgroundFinished, schema.EventStepSkipped:
		fmt.Fprintf(c.out, "%s < %s %s\n", ts, ev.Step, ev.Status)
	case schema.EventSequenceFinished:
		msg := string(ev.Status)
		if ev.Message != "" {
			msg += ": " + ev.Message
		}
		fmt.Fprintf(c.out, "%s sequence %s\n", ts, msg)
	}
}
