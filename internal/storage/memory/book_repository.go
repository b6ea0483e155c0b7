package memory

import (
	"github.com/vladislavdragonenkov/bookstore/internal/domain"
)

// bookRepositoryInMemory — реализация BookRepository поверх разделяемого Store.
type bookRepositoryInMemory struct {
	store *Store
}

// NewBookRepository возвращает in-memory репозиторий книг.
func NewBookRepository(store *Store) domain.BookRepository {
	return &bookRepositoryInMemory{store: store}
}

// Create сохраняет новую книгу, если ID и ISBN ещё не заняты.
func (r *bookRepositoryInMemory) Create(book domain.Book) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if _, exists := r.store.books[book.ID]; exists {
		return domain.ErrBookExists
	}
	for _, existing := range r.store.books {
		if existing.ISBN.Equal(book.ISBN) {
			return domain.ErrBookExists
		}
	}
	r.store.books[book.ID] = book
	return nil
}

// Get возвращает книгу или ErrBookNotFound, если её нет.
func (r *bookRepositoryInMemory) Get(id string) (domain.Book, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	book, ok := r.store.books[id]
	if !ok {
		return domain.Book{}, domain.ErrBookNotFound
	}
	return book, nil
}

// Save перезаписывает книгу, проверяя версию (optimistic locking).
func (r *bookRepositoryInMemory) Save(book domain.Book) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	current, ok := r.store.books[book.ID]
	if !ok {
		return domain.ErrBookNotFound
	}
	if current.Version != book.Version {
		return domain.ErrVersionConflict
	}
	book.Version++
	r.store.books[book.ID] = book
	return nil
}

var _ domain.BookRepository = (*bookRepositoryInMemory)(nil)
