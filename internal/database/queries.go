package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"newsportal/internal/domain"
)

func (d *Database) CreateUser(ctx context.Context, username string, email string) (int64, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return 0, errors.New("username is empty")
	}

	query := "insert into users (username, email) values (?, ?)"

	res, err := d.db.ExecContext(ctx, query, username, strings.TrimSpace(email))
	if err != nil {
		return 0, fmt.Errorf("insert user: %w", err)
	}

	return res.LastInsertId()
}

func (d *Database) CreateCategory(ctx context.Context, name string) (int64, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, errors.New("category name is empty")
	}

	query := "insert into categories (name) values (?)"

	res, err := d.db.ExecContext(ctx, query, name)
	if err != nil {
		return 0, fmt.Errorf("insert category: %w", err)
	}

	return res.LastInsertId()
}

func (d *Database) GetCategory(ctx context.Context, categoryID int64) (*domain.Category, error) {
	query := "select id, name from categories where id = ?"

	var c domain.Category
	err := d.db.QueryRowContext(ctx, query, categoryID).Scan(&c.ID, &c.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("category %d: %w", categoryID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan row: %w", err)
	}

	return &c, nil
}

func (d *Database) ListCategories(ctx context.Context) ([]domain.Category, error) {
	query := "select id, name from categories order by id"

	rows, err := d.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer d.closeRows(ctx, rows, "ListCategories")

	var categories []domain.Category
	for rows.Next() {
		var c domain.Category
		if err = rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		categories = append(categories, c)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rows: %w", err)
	}

	return categories, nil
}

// AddSubscription inserts a join row even if the pair already exists.
func (d *Database) AddSubscription(ctx context.Context, categoryID int64, userID int64) (int64, error) {
	query := "insert into category_subscribers (category_id, user_id) values (?, ?)"

	res, err := d.db.ExecContext(ctx, query, categoryID, userID)
	if err != nil {
		return 0, fmt.Errorf("insert subscription: %w", err)
	}

	return res.LastInsertId()
}

func (d *Database) RemoveSubscription(ctx context.Context, categoryID int64, userID int64) error {
	query := "delete from category_subscribers where category_id = ? and user_id = ?"

	_, err := d.db.ExecContext(ctx, query, categoryID, userID)

	return err
}

func (d *Database) IsSubscribed(ctx context.Context, categoryID int64, userID int64) (bool, error) {
	query := `select exists (
		select 1 from category_subscribers where category_id = ? and user_id = ?
	)`

	var exists bool
	if err := d.db.QueryRowContext(ctx, query, categoryID, userID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to scan row: %w", err)
	}

	return exists, nil
}

// GetCategorySubscribers returns one user per join row, in subscription order.
func (d *Database) GetCategorySubscribers(ctx context.Context, categoryID int64) ([]domain.User, error) {
	query := `select u.id, u.username, u.email
	from category_subscribers as cs
	join users as u
	on u.id = cs.user_id
	where cs.category_id = ?
	order by cs.id`

	rows, err := d.db.QueryContext(ctx, query, categoryID)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer d.closeRows(ctx, rows, "GetCategorySubscribers")

	var users []domain.User
	for rows.Next() {
		var u domain.User
		if err = rows.Scan(&u.ID, &u.Username, &u.Email); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		u.Email = strings.TrimSpace(u.Email)
		users = append(users, u)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rows: %w", err)
	}

	return users, nil
}

func (d *Database) InsertPost(ctx context.Context, post *domain.Post) (int64, error) {
	if post.CategoryID == 0 {
		return 0, errors.New("post category is empty")
	}

	kind := post.Kind
	if kind == "" {
		kind = domain.PostKindArticle
	}

	createdAt := post.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	query := `insert into posts (author_id, category_id, kind, title, text, created_at, rating)
	values (?, ?, ?, ?, ?, ?, ?)`

	res, err := d.db.ExecContext(ctx, query,
		post.AuthorID,
		post.CategoryID,
		string(kind),
		post.Title,
		post.Text,
		toMicros(createdAt),
		post.Rating)
	if err != nil {
		return 0, fmt.Errorf("insert post: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}

	post.ID = id
	post.Kind = kind
	post.CreatedAt = fromMicros(toMicros(createdAt))

	return id, nil
}

// UpdatePost writes content fields. created_at and rating are never touched;
// rating only moves through AdjustPostRating.
func (d *Database) UpdatePost(ctx context.Context, post *domain.Post) error {
	if post.CategoryID == 0 {
		return errors.New("post category is empty")
	}

	if post.Kind == "" {
		post.Kind = domain.PostKindArticle
	}

	query := `update posts
	set author_id = ?, category_id = ?, kind = ?, title = ?, text = ?
	where id = ?`

	res, err := d.db.ExecContext(ctx, query,
		post.AuthorID,
		post.CategoryID,
		string(post.Kind),
		post.Title,
		post.Text,
		post.ID)
	if err != nil {
		return fmt.Errorf("update post: %w", err)
	}

	return requireAffected(res, "post", post.ID)
}

func (d *Database) AdjustPostRating(ctx context.Context, postID int64, delta int64) error {
	query := "update posts set rating = rating + ? where id = ?"

	res, err := d.db.ExecContext(ctx, query, delta, postID)
	if err != nil {
		return fmt.Errorf("update post rating: %w", err)
	}

	return requireAffected(res, "post", postID)
}

func (d *Database) DeletePost(ctx context.Context, postID int64) error {
	query := "delete from posts where id = ?"

	res, err := d.db.ExecContext(ctx, query, postID)
	if err != nil {
		return fmt.Errorf("delete post: %w", err)
	}

	return requireAffected(res, "post", postID)
}

func (d *Database) GetPost(ctx context.Context, postID int64) (*domain.Post, error) {
	query := `select id, author_id, category_id, kind, title, text, created_at, rating
	from posts
	where id = ?`

	row := d.db.QueryRowContext(ctx, query, postID)

	post, err := scanPost(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("post %d: %w", postID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan row: %w", err)
	}

	return post, nil
}

// GetCategoryPostsBetween returns posts of the category created in [from, to).
func (d *Database) GetCategoryPostsBetween(
	ctx context.Context,
	categoryID int64,
	from time.Time,
	to time.Time,
) ([]domain.Post, error) {
	query := `select id, author_id, category_id, kind, title, text, created_at, rating
	from posts
	where category_id = ?
	and created_at >= ?
	and created_at < ?
	order by created_at, id`

	rows, err := d.db.QueryContext(ctx, query, categoryID, toMicros(from), toMicros(to))
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer d.closeRows(ctx, rows, "GetCategoryPostsBetween")

	var posts []domain.Post
	for rows.Next() {
		post, scanErr := scanPost(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan row: %w", scanErr)
		}

		posts = append(posts, *post)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rows: %w", err)
	}

	return posts, nil
}

func (d *Database) CreateAuthor(ctx context.Context, userID int64) (int64, error) {
	query := "insert into authors (user_id) values (?)"

	res, err := d.db.ExecContext(ctx, query, userID)
	if err != nil {
		return 0, fmt.Errorf("insert author: %w", err)
	}

	return res.LastInsertId()
}

func (d *Database) DeleteAuthor(ctx context.Context, userID int64) error {
	query := "delete from authors where user_id = ?"

	res, err := d.db.ExecContext(ctx, query, userID)
	if err != nil {
		return fmt.Errorf("delete author: %w", err)
	}

	return requireAffected(res, "author of user", userID)
}

func (d *Database) GetAuthor(ctx context.Context, authorID int64) (*domain.Author, error) {
	query := "select id, user_id, rating from authors where id = ?"

	var a domain.Author
	err := d.db.QueryRowContext(ctx, query, authorID).Scan(&a.ID, &a.UserID, &a.Rating)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("author %d: %w", authorID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan row: %w", err)
	}

	return &a, nil
}

// UpdateAuthorRating recomputes the author rating as
// sum(post ratings) * 3 + sum(ratings of the user's comments) and stores it.
func (d *Database) UpdateAuthorRating(ctx context.Context, authorID int64) (int64, error) {
	query := `update authors
	set rating = (
		select coalesce(sum(p.rating), 0) * 3 from posts as p where p.author_id = authors.id
	) + (
		select coalesce(sum(c.rating), 0) from comments as c where c.user_id = authors.user_id
	)
	where id = ?
	returning rating`

	var rating int64
	err := d.db.QueryRowContext(ctx, query, authorID).Scan(&rating)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("author %d: %w", authorID, ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("update author rating: %w", err)
	}

	return rating, nil
}

func (d *Database) InsertComment(ctx context.Context, comment *domain.Comment) (int64, error) {
	createdAt := comment.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	query := `insert into comments (post_id, user_id, text, created_at, rating)
	values (?, ?, ?, ?, ?)`

	res, err := d.db.ExecContext(ctx, query,
		comment.PostID,
		comment.UserID,
		comment.Text,
		toMicros(createdAt),
		comment.Rating)
	if err != nil {
		return 0, fmt.Errorf("insert comment: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}

	comment.ID = id
	comment.CreatedAt = fromMicros(toMicros(createdAt))

	return id, nil
}

func (d *Database) AdjustCommentRating(ctx context.Context, commentID int64, delta int64) error {
	query := "update comments set rating = rating + ? where id = ?"

	res, err := d.db.ExecContext(ctx, query, delta, commentID)
	if err != nil {
		return fmt.Errorf("update comment rating: %w", err)
	}

	return requireAffected(res, "comment", commentID)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPost(row rowScanner) (*domain.Post, error) {
	var (
		p         domain.Post
		kind      string
		createdAt int64
	)

	if err := row.Scan(
		&p.ID,
		&p.AuthorID,
		&p.CategoryID,
		&kind,
		&p.Title,
		&p.Text,
		&createdAt,
		&p.Rating,
	); err != nil {
		return nil, err
	}

	p.Kind = domain.PostKind(kind)
	p.CreatedAt = fromMicros(createdAt)

	return &p, nil
}

func requireAffected(res sql.Result, entity string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}

	if n == 0 {
		return fmt.Errorf("%s %d: %w", entity, id, ErrNotFound)
	}

	return nil
}
