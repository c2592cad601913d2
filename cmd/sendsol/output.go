package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/itchyny/gojq"
	"github.com/urfave/cli/v2"
)

// outputOptions selects how a command prints its result.
type outputOptions struct {
	json bool
	jq   string
}

func outputFrom(c *cli.Context) outputOptions {
	return outputOptions{
		json: c.Bool("json"),
		jq:   c.String("jq"),
	}
}

// render writes v as filtered JSON, indented JSON or human text.
func render(w io.Writer, opts outputOptions, v any, human func(io.Writer)) error {
	if opts.jq != "" {
		return writeJQ(w, opts.jq, v)
	}
	if opts.json {
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal output: %w", err)
		}
		fmt.Fprintln(w, string(data))
		return nil
	}
	human(w)
	return nil
}

// compileJQ parses and compiles a jq filter expression.
func compileJQ(filter string) (*gojq.Code, error) {
	query, err := gojq.Parse(filter)
	if err != nil {
		return nil, fmt.Errorf("failed to parse jq filter %q: %w", filter, err)
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return nil, fmt.Errorf("failed to compile jq filter %q: %w", filter, err)
	}
	return code, nil
}

// runJQ evaluates code against the JSON form of v and collects every result.
func runJQ(code *gojq.Code, v any) ([]any, error) {
	// gojq only understands plain JSON values, so round-trip through encoding/json.
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal output: %w", err)
	}
	var input any
	if err := json.Unmarshal(data, &input); err != nil {
		return nil, fmt.Errorf("failed to decode output: %w", err)
	}

	var results []any
	iter := code.Run(input)
	for {
		result, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := result.(error); isErr {
			return nil, fmt.Errorf("jq filter error: %w", err)
		}
		results = append(results, result)
	}
	return results, nil
}

// writeJQ prints each filter result on its own line. Strings are printed raw.
func writeJQ(w io.Writer, filter string, v any) error {
	code, err := compileJQ(filter)
	if err != nil {
		return err
	}
	results, err := runJQ(code, v)
	if err != nil {
		return err
	}
	for _, result := range results {
		if s, ok := result.(string); ok {
			fmt.Fprintln(w, s)
			continue
		}
		data, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("failed to marshal jq result: %w", err)
		}
		fmt.Fprintln(w, string(data))
	}
	return nil
}
