package supervisor

import (
	"log/slog"

	"github.com/shirou/gopsutil/v3/process"
)

// killTree signals pid and every descendant. Descendants are collected
// before the root is signalled so reparented orphans are still reached.
// With graceful set the tree gets SIGTERM, otherwise SIGKILL.
func killTree(pid int, graceful bool, logger *slog.Logger) {
	root, err := process.NewProcess(int32(pid))
	if err != nil {
		// Already gone.
		return
	}

	tree := append([]*process.Process{root}, descendants(root)...)
	for _, p := range tree {
		var err error
		if graceful {
			err = p.Terminate()
		} else {
			err = p.Kill()
		}
		if err != nil {
			logger.Debug("signal failed", "pid", p.Pid, "graceful", graceful, "error", err)
		}
	}
}

func descendants(p *process.Process) []*process.Process {
	children, err := p.Children()
	if err != nil {
		return nil
	}
	var out []*process.Process
	for _, c := range children {
		out = append(out, c)
		out = append(out, descendants(c)...)
	}
	return out
}

// Alive reports whether pid still refers to a live process.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	ok, err := process.PidExists(int32(pid))
	return err == nil && ok
}
