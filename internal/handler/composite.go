package handler

import (
	"errors"
	"fmt"
	"sync"

	"github.com/coffersTech/grandoutput/internal/model"
)

// Sequence calls its children one after the other. Every child is called
// even when a previous one fails.
//
// Composites do not own their children: leaf handlers are shared between
// routes and their lifecycle is driven by the host.
type Sequence struct {
	Name     string
	Children []Handler
}

func (s *Sequence) Initialize() error { return nil }
func (s *Sequence) Close() error      { return nil }

func (s *Sequence) Handle(ev *model.Event, sendToCommonSink bool) error {
	var errs []error
	for _, h := range s.Children {
		if err := safeHandle(h, ev, sendToCommonSink); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Parallel calls its children concurrently and waits for all of them.
type Parallel struct {
	Name     string
	Children []Handler
}

func (p *Parallel) Initialize() error { return nil }
func (p *Parallel) Close() error      { return nil }

func (p *Parallel) Handle(ev *model.Event, sendToCommonSink bool) error {
	if len(p.Children) == 1 {
		return safeHandle(p.Children[0], ev, sendToCommonSink)
	}
	errs := make([]error, len(p.Children))
	var wg sync.WaitGroup
	for i, h := range p.Children {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = safeHandle(h, ev, sendToCommonSink)
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}

// safeHandle turns a handler panic into an error.
func safeHandle(h Handler, ev *model.Event, sendToCommonSink bool) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("handler panicked: %v", p)
		}
	}()
	return h.Handle(ev, sendToCommonSink)
}
