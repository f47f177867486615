package attempt

// Navigator is a cursor over question indices 0..count-1.
// Moves that would leave the range are refused and leave the cursor unchanged.
type Navigator struct {
	index int
	count int
}

// NewNavigator places the cursor at index, clamped into range.
func NewNavigator(index, count int) Navigator {
	if count < 1 {
		count = 1
	}
	if index < 0 {
		index = 0
	}
	if index >= count {
		index = count - 1
	}
	return Navigator{index: index, count: count}
}

// Next moves forward. The last question is terminal for forward motion.
func (n *Navigator) Next() bool {
	if n.IsLast() {
		return false
	}
	n.index++
	return true
}

// Previous moves back. Blocked at the first question.
func (n *Navigator) Previous() bool {
	if n.index == 0 {
		return false
	}
	n.index--
	return true
}

// GoTo jumps to i if it is a valid index.
func (n *Navigator) GoTo(i int) bool {
	if i < 0 || i >= n.count || i == n.index {
		return false
	}
	n.index = i
	return true
}

func (n Navigator) Index() int { return n.index }

func (n Navigator) Count() int { return n.count }

func (n Navigator) IsLast() bool { return n.index == n.count-1 }

func (n Navigator) IsFirst() bool { return n.index == 0 }
