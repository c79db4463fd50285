package testrun

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFailures_Node(t *testing.T) {
	output := `FAIL src/calc.test.js
  ● adds two numbers

    expect(received).toBe(expected)

      at Object.<anonymous> (src/calc.test.js:14:19)
`
	failures := ParseFailures("node", output)
	require.Len(t, failures, 1)
	assert.Equal(t, "src/calc.test.js", failures[0].File)
	assert.Equal(t, 14, failures[0].Line)
	assert.Equal(t, "adds two numbers", failures[0].Message)
}

func TestParseFailures_Python(t *testing.T) {
	output := `FAILED tests/test_calc.py::test_divide - ZeroDivisionError
  File "src/calc.py", line 7, in divide
`
	failures := ParseFailures("python", output)
	require.Len(t, failures, 2)
	assert.Equal(t, "tests/test_calc.py", failures[0].File)
	assert.Zero(t, failures[0].Line)
	assert.Equal(t, "src/calc.py", failures[1].File)
	assert.Equal(t, 7, failures[1].Line)
}

func TestParseFailures_Java(t *testing.T) {
	output := `Running com.acme.widget.CalcTest
Tests run: 4, Failures: 2, Errors: 0, Skipped: 0
Running com.acme.widget.OtherTest
Tests run: 3, Failures: 0, Errors: 0, Skipped: 0
`
	failures := ParseFailures("java", output)
	require.Len(t, failures, 1)
	assert.Equal(t, "com/acme/widget/CalcTest.java", failures[0].File)
}

func TestParseFailures_Go(t *testing.T) {
	output := `--- FAIL: TestDivide (0.00s)
    calc_test.go:22: expected 2, got 3
--- FAIL: TestMultiply (0.00s)
    calc_test.go:31: expected 6, got 5
`
	failures := ParseFailures("go", output)
	require.Len(t, failures, 2)
	assert.Equal(t, "calc_test.go", failures[0].File)
	assert.Equal(t, 22, failures[0].Line)
	assert.Contains(t, failures[0].Message, "TestDivide")
	assert.Equal(t, 31, failures[1].Line)
}

func TestParseFailures_Generic(t *testing.T) {
	output := `compilation error at lib/main.c:42
all good here
FAILURE in scripts/build.sh:7
`
	failures := ParseFailures("make", output)
	require.Len(t, failures, 2)
	assert.Equal(t, "lib/main.c", failures[0].File)
	assert.Equal(t, 42, failures[0].Line)
	assert.Equal(t, "scripts/build.sh", failures[1].File)
}

func TestParseFailures_DedupesByFileLine(t *testing.T) {
	output := `  File "src/calc.py", line 7, in divide
  File "src/calc.py", line 7, in divide
  File "src/calc.py", line 9, in main
`
	failures := ParseFailures("python", output)
	assert.Len(t, failures, 2)
}

func TestParseFailures_CleanOutput(t *testing.T) {
	assert.Empty(t, ParseFailures("node", "PASS src/calc.test.js\n"))
	assert.Empty(t, ParseFailures("go", "ok  \tcalc\t0.004s\n"))
}
