package testrun

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	jestStackRe   = regexp.MustCompile(`at\s+.*\((.+?):(\d+):\d+\)`)
	pyFailedRe    = regexp.MustCompile(`FAILED\s+([^\s:]+\.py)::(\S+)`)
	pyTraceRe     = regexp.MustCompile(`File "(.+?)", line (\d+)`)
	javaRunningRe = regexp.MustCompile(`Running\s+([\w.$]+)`)
	javaResultRe  = regexp.MustCompile(`Tests run:\s*\d+,\s*Failures:\s*([1-9]\d*)`)
	goFailRe      = regexp.MustCompile(`--- FAIL: (\S+)`)
	goFileLineRe  = regexp.MustCompile(`([\w./\-]+\.go):(\d+)`)
	genericLineRe = regexp.MustCompile(`(?i)\b(error|fail)`)
	genericFileRe = regexp.MustCompile(`([\w./\\\-]+\.[A-Za-z0-9]+):(\d+)`)
)

// ParseFailures extracts structured failures from raw test output using the
// project type's conventions, deduplicated by (file, line).
func ParseFailures(projectType, output string) []Failure {
	var failures []Failure
	switch projectType {
	case "node":
		failures = parseNode(output)
	case "python":
		failures = parsePython(output)
	case "java":
		failures = parseJava(output)
	case "go":
		failures = parseGo(output)
	default:
		failures = parseGeneric(output)
	}
	return dedupe(failures)
}

// parseNode handles jest-style output: a "● test name" header followed by a
// stack frame carrying file:line.
func parseNode(output string) []Failure {
	var out []Failure
	var current string
	for _, line := range strings.Split(output, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "●") {
			current = strings.TrimSpace(strings.TrimPrefix(trimmed, "●"))
			continue
		}
		if m := jestStackRe.FindStringSubmatch(line); m != nil {
			msg := current
			if msg == "" {
				msg = trimmed
			}
			out = append(out, Failure{File: m[1], Line: atoi(m[2]), Message: msg})
			current = ""
		}
	}
	return out
}

func parsePython(output string) []Failure {
	var out []Failure
	for _, line := range strings.Split(output, "\n") {
		if m := pyFailedRe.FindStringSubmatch(line); m != nil {
			out = append(out, Failure{File: m[1], Message: strings.TrimSpace(line)})
			continue
		}
		if m := pyTraceRe.FindStringSubmatch(line); m != nil {
			out = append(out, Failure{File: m[1], Line: atoi(m[2]), Message: strings.TrimSpace(line)})
		}
	}
	return out
}

// parseJava derives a file path from the dotted class name of the most
// recent "Running <Class>" line preceding a failed surefire summary.
func parseJava(output string) []Failure {
	var out []Failure
	var lastClass string
	for _, line := range strings.Split(output, "\n") {
		if m := javaRunningRe.FindStringSubmatch(line); m != nil {
			lastClass = m[1]
			continue
		}
		if javaResultRe.MatchString(line) && lastClass != "" {
			file := strings.ReplaceAll(lastClass, ".", "/") + ".java"
			out = append(out, Failure{File: file, Message: strings.TrimSpace(line)})
		}
	}
	return out
}

// parseGo pairs a "--- FAIL: TestX" line with the file:line on a following
// line.
func parseGo(output string) []Failure {
	var out []Failure
	var pendingTest string
	for _, line := range strings.Split(output, "\n") {
		if m := goFailRe.FindStringSubmatch(line); m != nil {
			pendingTest = m[1]
			continue
		}
		if pendingTest == "" {
			continue
		}
		if m := goFileLineRe.FindStringSubmatch(line); m != nil {
			out = append(out, Failure{
				File:    m[1],
				Line:    atoi(m[2]),
				Message: pendingTest + ": " + strings.TrimSpace(line),
			})
			pendingTest = ""
		}
	}
	return out
}

func parseGeneric(output string) []Failure {
	var out []Failure
	for _, line := range strings.Split(output, "\n") {
		if !genericLineRe.MatchString(line) {
			continue
		}
		if m := genericFileRe.FindStringSubmatch(line); m != nil {
			out = append(out, Failure{File: m[1], Line: atoi(m[2]), Message: strings.TrimSpace(line)})
		}
	}
	return out
}

func dedupe(in []Failure) []Failure {
	type key struct {
		file string
		line int
	}
	seen := make(map[key]bool, len(in))
	var out []Failure
	for _, f := range in {
		k := key{f.File, f.Line}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, f)
	}
	return out
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
