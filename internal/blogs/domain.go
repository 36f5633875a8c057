package blogs

import "time"

// Blog is a post in the blog collection.
type Blog struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	AuthorID  int64     `json:"author_id,omitempty"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BlogRequest is the payload of POST /blog and PUT /blog/{id}.
type BlogRequest struct {
	Title   string `json:"title" validate:"required,max=200"`
	Content string `json:"content" validate:"required"`
}

// ListFilter narrows a blog listing.
type ListFilter struct {
	Search string
	Limit  int
	Offset int
}
