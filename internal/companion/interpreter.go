package companion

import (
	"fmt"
	"os"
	"os/exec"
)

// Interpreter locates the executable that runs the entry script.
type Interpreter interface {
	Resolve() (string, error)
}

// PathInterpreter uses Path when set, otherwise looks Name up on PATH.
type PathInterpreter struct {
	Path string
	Name string
}

func (p PathInterpreter) Resolve() (string, error) {
	if p.Path != "" {
		info, err := os.Stat(p.Path)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrInterpreterNotFound, err)
		}
		if info.IsDir() || info.Mode()&0111 == 0 {
			return "", fmt.Errorf("%w: %s is not executable", ErrInterpreterNotFound, p.Path)
		}
		return p.Path, nil
	}
	name := p.Name
	if name == "" {
		name = "node"
	}
	path, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInterpreterNotFound, err)
	}
	return path, nil
}
