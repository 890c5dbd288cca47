package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound участник, заявка или документ не найдены.
	ErrNotFound = errors.New("не найдено")
	// ErrUnauthorized действие доступно только администраторам или автору заявки.
	ErrUnauthorized = errors.New("нет доступа")
	// ErrInvalidInput неверные аргументы команды или оценки.
	ErrInvalidInput = errors.New("некорректные данные")
	// ErrStaleRequest заявка уже обработана или удалена.
	ErrStaleRequest = errors.New("заявка устарела")
	// ErrPersistence хранилище недоступно.
	ErrPersistence = errors.New("ошибка хранилища")
	// ErrSelfFeedback отзыв самому себе.
	ErrSelfFeedback = fmt.Errorf("отзыв самому себе: %w", ErrInvalidInput)
)
