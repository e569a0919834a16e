package stack

import "github.com/pkg/errors"

var ErrStackEmpty = errors.New("stack is empty")

// Stack is a LIFO container backed by a slice.
type Stack[T any] struct{ underlying []T }

func New[T any](capacity uint) *Stack[T] {
	return &Stack[T]{underlying: make([]T, 0, capacity)}
}

func (s *Stack[T]) Len() uint { return uint(len(s.underlying)) }

// Data returns a copy of the elements, bottom first.
func (s *Stack[T]) Data() []T {
	out := make([]T, len(s.underlying))
	copy(out, s.underlying)
	return out
}

func (s *Stack[T]) Push(data T) {
	s.underlying = append(s.underlying, data)
}

func (s *Stack[T]) Pop() (T, error) {
	top, err := s.Peek()
	if err != nil {
		return top, err
	}

	s.underlying = s.underlying[:len(s.underlying)-1]
	return top, nil
}

func (s *Stack[T]) Peek() (T, error) {
	if len(s.underlying) == 0 {
		var zero T
		return zero, ErrStackEmpty
	}

	return s.underlying[len(s.underlying)-1], nil
}
