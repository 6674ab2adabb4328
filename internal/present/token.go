package present

// Token marks the GPU completion of one submission. The Submitter holds at
// most one live token; each submission takes it, joins it into the new
// batch, and stores the token that batch produced.
type Token struct {
	fence Fence     // nil for an already satisfied token
	done  Semaphore // signaled with fence; the next submission waits on it

	// freed or recycled once fence signals
	commands   CommandBuffer
	semaphores []Semaphore // waited on by this submission
}

// Now returns a token that is already satisfied.
func Now() *Token { return &Token{} }

// Finished polls the token without blocking.
func (t *Token) Finished() (bool, error) {
	if t.fence == nil {
		return true, nil
	}
	return t.fence.Signaled()
}

// joinWait hands the done signal to the next submission, which then owns it.
func (t *Token) joinWait() (Wait, bool) {
	if t.done == nil {
		return Wait{}, false
	}
	w := Wait{Semaphore: t.done, Stage: StageAllCommands}
	t.done = nil
	return w, true
}

func (t *Token) empty() bool {
	return t.fence == nil && t.commands == nil && len(t.semaphores) == 0 && t.done == nil
}

// release returns the sync objects of a finished token to pool. A done
// semaphore still held here was signaled but never waited on, so it cannot
// be signaled again and is destroyed instead.
func (t *Token) release(pool *syncPool) error {
	if t.commands != nil {
		t.commands.Free()
		t.commands = nil
	}
	for _, sem := range t.semaphores {
		pool.putSemaphore(sem)
	}
	t.semaphores = nil
	if t.done != nil {
		t.done.Destroy()
		t.done = nil
	}
	if t.fence != nil {
		f := t.fence
		t.fence = nil
		return pool.putFence(f)
	}
	return nil
}

// destroy frees everything without recycling, for tokens that never reached
// the queue.
func (t *Token) destroy() {
	if t.commands != nil {
		t.commands.Free()
		t.commands = nil
	}
	for _, sem := range t.semaphores {
		sem.Destroy()
	}
	t.semaphores = nil
	if t.done != nil {
		t.done.Destroy()
		t.done = nil
	}
	if t.fence != nil {
		t.fence.Destroy()
		t.fence = nil
	}
}
