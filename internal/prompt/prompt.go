// Package prompt provides interactive terminal prompts, designed for
// testability with mock implementations, and a confirmation presenter that
// answers gate prompts from the terminal.
package prompt

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// CredentialReader defines the interface for reading sensitive credentials
// from the user with hidden input.
type CredentialReader interface {
	// ReadCredential displays a prompt and reads a credential with hidden input.
	ReadCredential(prompt string) (string, error)
}

// TerminalCredentialReader implements CredentialReader using golang.org/x/term
// for hidden input from a real terminal.
type TerminalCredentialReader struct {
	In  *os.File
	Out io.Writer
}

// NewTerminalCredentialReader creates a TerminalCredentialReader that reads
// from the given file (typically os.Stdin) and writes prompts to w.
func NewTerminalCredentialReader(in *os.File, out io.Writer) *TerminalCredentialReader {
	return &TerminalCredentialReader{In: in, Out: out}
}

// ReadCredential displays the prompt and reads input with echoing disabled.
func (r *TerminalCredentialReader) ReadCredential(prompt string) (string, error) {
	_, _ = fmt.Fprint(r.Out, prompt)

	credential, err := term.ReadPassword(int(r.In.Fd()))
	if err != nil {
		return "", fmt.Errorf("failed to read credential: %w", err)
	}

	// ReadPassword swallows the newline.
	_, _ = fmt.Fprintln(r.Out)

	return string(credential), nil
}

// LineCredentialReader reads a credential as the first line of a
// non-terminal reader, for piped input such as --password-stdin.
type LineCredentialReader struct {
	In io.Reader
}

// ReadCredential returns the first line of In without its line ending.
func (r *LineCredentialReader) ReadCredential(string) (string, error) {
	line, err := bufio.NewReader(r.In).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read credential: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// MockCredentialReader implements CredentialReader for testing,
// returning pre-configured credentials.
type MockCredentialReader struct {
	// Credentials is a queue of credentials to return for successive calls.
	Credentials []string
	// Errors is a queue of errors to return for successive calls.
	// If non-nil, the error is returned instead of the credential.
	Errors []error
	// Calls records all prompts passed to ReadCredential.
	Calls []string

	callIndex int
}

// NewMockCredentialReader creates a MockCredentialReader with the given credentials.
func NewMockCredentialReader(credentials ...string) *MockCredentialReader {
	return &MockCredentialReader{Credentials: credentials}
}

// ReadCredential returns the next pre-configured credential or error.
func (m *MockCredentialReader) ReadCredential(prompt string) (string, error) {
	m.Calls = append(m.Calls, prompt)

	if m.callIndex < len(m.Errors) && m.Errors[m.callIndex] != nil {
		err := m.Errors[m.callIndex]
		m.callIndex++
		return "", err
	}

	if m.callIndex < len(m.Credentials) {
		credential := m.Credentials[m.callIndex]
		m.callIndex++
		return credential, nil
	}

	m.callIndex++
	return "", nil
}

// YesNoPrompter defines the interface for yes/no confirmation prompts.
type YesNoPrompter interface {
	// PromptYesNo displays a yes/no prompt and returns the user's response.
	// If the user presses Enter without input, defaultYes determines the result.
	PromptYesNo(prompt string, defaultYes bool) (bool, error)
}

// StdinYesNoPrompter implements YesNoPrompter using stdin/stdout.
type StdinYesNoPrompter struct {
	In  io.Reader
	Out io.Writer
}

// NewStdinYesNoPrompter creates a StdinYesNoPrompter that reads from r and writes to w.
func NewStdinYesNoPrompter(r io.Reader, w io.Writer) *StdinYesNoPrompter {
	return &StdinYesNoPrompter{In: r, Out: w}
}

// PromptYesNo displays the prompt and reads user input.
// Accepts "y" and "yes" as true, "n" and "no" as false, in any case.
// Empty input returns defaultYes.
func (p *StdinYesNoPrompter) PromptYesNo(prompt string, defaultYes bool) (bool, error) {
	_, _ = fmt.Fprint(p.Out, prompt)

	reader := bufio.NewReader(p.In)
	line, err := reader.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, fmt.Errorf("failed to read input: %w", err)
	}

	input := strings.TrimSpace(strings.ToLower(line))
	switch input {
	case "":
		return defaultYes, nil
	case "y", "yes":
		return true, nil
	case "n", "no":
		return false, nil
	}
	return false, fmt.Errorf("invalid input %q: expected y/n", input)
}

// MockYesNoPrompter implements YesNoPrompter for testing.
type MockYesNoPrompter struct {
	// Responses is a queue of responses to return for successive calls.
	Responses []bool
	// Errors is a queue of errors to return for successive calls.
	Errors []error
	// Calls records all calls made to PromptYesNo.
	Calls []MockYesNoCall

	// Block, if set, is received from before answering.
	Block <-chan struct{}

	callIndex int
}

// MockYesNoCall records a single call to PromptYesNo.
type MockYesNoCall struct {
	Prompt     string
	DefaultYes bool
}

// NewMockYesNoPrompter creates a MockYesNoPrompter with the given responses.
func NewMockYesNoPrompter(responses ...bool) *MockYesNoPrompter {
	return &MockYesNoPrompter{Responses: responses}
}

// PromptYesNo returns the next pre-configured response or error.
func (m *MockYesNoPrompter) PromptYesNo(prompt string, defaultYes bool) (bool, error) {
	m.Calls = append(m.Calls, MockYesNoCall{
		Prompt:     prompt,
		DefaultYes: defaultYes,
	})

	if m.Block != nil {
		<-m.Block
	}

	if m.callIndex < len(m.Errors) && m.Errors[m.callIndex] != nil {
		err := m.Errors[m.callIndex]
		m.callIndex++
		return false, err
	}

	if m.callIndex < len(m.Responses) {
		response := m.Responses[m.callIndex]
		m.callIndex++
		return response, nil
	}

	m.callIndex++
	return defaultYes, nil
}
