//go:build darwin

package exportfs

import (
	"os/exec"
	"sync"
	"time"
)

// setFilePath is the Xcode command line tool that can change a file's
// creation date. Without it creation times are left alone.
var setFilePath = sync.OnceValue(func() string {
	p, err := exec.LookPath("SetFile")
	if err != nil {
		return ""
	}
	return p
})

func setBirthTime(path string, created time.Time) error {
	tool := setFilePath()
	if tool == "" {
		return nil
	}
	return exec.Command(tool, "-d", created.Local().Format("01/02/2006 15:04:05"), path).Run()
}
