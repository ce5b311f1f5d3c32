package taskgraph

// Validate checks that every reference resolves and that no task depends,
// directly or through other tasks, on itself.
func (g *Graph) Validate() error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(g.tasks))
	var stack []string

	var visitNode func(owner string, n *Node) error
	var visitTask func(name string) error

	visitTask = func(name string) error {
		switch color[name] {
		case black:
			return nil
		case gray:
			// Back-edge: the cycle is the stack suffix starting at name.
			start := 0
			for i, s := range stack {
				if s == name {
					start = i
					break
				}
			}
			path := append(append([]string{}, stack[start:]...), name)
			return cycleError(path)
		}
		n, ok := g.tasks[name]
		if !ok {
			return unknownf("%q", name)
		}
		color[name] = gray
		stack = append(stack, name)
		if err := visitNode(name, n); err != nil {
			return err
		}
		stack = stack[:len(stack)-1]
		color[name] = black
		return nil
	}

	visitNode = func(owner string, n *Node) error {
		switch n.kind {
		case KindRef:
			if _, ok := g.tasks[n.label]; !ok {
				return unknownf("%q referenced by %q", n.label, owner)
			}
			return visitTask(n.label)
		case KindAction:
			if n.action == nil {
				return invalidf("action %q in %q has no body", n.label, owner)
			}
			return nil
		case KindSeries, KindParallel, KindTolerate:
			for _, c := range n.children {
				if c == nil {
					return invalidf("nil child in %q", owner)
				}
				if err := visitNode(owner, c); err != nil {
					return err
				}
			}
			return nil
		default:
			return invalidf("unknown node kind %d in %q", n.kind, owner)
		}
	}

	for _, name := range g.order {
		if err := visitTask(name); err != nil {
			return err
		}
	}
	return nil
}
