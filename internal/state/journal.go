package state

// journal is an append-only list of undo closures.
type journal struct {
	undo []func()
}

func (j *journal) append(f func()) {
	j.undo = append(j.undo, f)
}

func (j *journal) length() int {
	return len(j.undo)
}

// revert runs the undo entries above id in reverse order.
func (j *journal) revert(id int) {
	if id < 0 {
		id = 0
	}
	for i := len(j.undo) - 1; i >= id; i-- {
		j.undo[i]()
	}
	if id < len(j.undo) {
		j.undo = j.undo[:id]
	}
}

func (j *journal) reset() {
	j.undo = nil
}
