package sshtest

import (
	"testing"
)

func TestShellAppendsStatus(t *testing.T) {
	h := Shell(func(cmd string, _ map[string]string) Result {
		if cmd != "false" {
			t.Fatalf("handler saw %q", cmd)
		}
		return Result{Stdout: "out\n", Status: 1}
	})
	res := h(`false;echo -ne "[return_code:$?]"`, nil)
	if res.Stdout != "out\n[return_code:1]" || res.Status != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
	res = h("false", nil)
	if res.Stdout != "out\n" || res.Status != 1 {
		t.Fatalf("unexpected raw result: %+v", res)
	}
}
