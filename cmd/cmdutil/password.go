package cmdutil

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// ReadPassword returns flagValue, or the first line of in when fromStdin is
// set so the password stays out of shell history.
func ReadPassword(in io.Reader, prompt io.Writer, flagValue string, fromStdin bool) (string, error) {
	if !fromStdin {
		return flagValue, nil
	}
	if prompt != nil {
		fmt.Fprint(prompt, "Enter password: ")
	}
	scanner := bufio.NewScanner(in)
	if scanner.Scan() {
		return strings.TrimRight(scanner.Text(), "\r"), nil
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return "", nil
}
