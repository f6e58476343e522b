package collector

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/LJTian/ArticleHub/internal/source"
)

// DefaultPostsQuery 产品发现类 GraphQL 源的默认查询
const DefaultPostsQuery = `query Posts($first: Int!) {
  posts(first: $first, order: NEWEST) {
    edges { node { id name tagline url createdAt votesCount user { name } } }
  }
}`

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type graphQLResponse struct {
	Data struct {
		Posts struct {
			Edges []struct {
				Node struct {
					ID         string `json:"id"`
					Name       string `json:"name"`
					Tagline    string `json:"tagline"`
					URL        string `json:"url"`
					CreatedAt  string `json:"createdAt"`
					VotesCount int    `json:"votesCount"`
					User       struct {
						Name string `json:"name"`
					} `json:"user"`
				} `json:"node"`
			} `json:"edges"`
		} `json:"posts"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// GraphQLAdapter 单次 POST，携带固定查询与 first 变量
type GraphQLAdapter struct {
	client *http.Client
}

func NewGraphQLAdapter(client *http.Client) *GraphQLAdapter {
	if client == nil {
		client = &http.Client{}
	}
	return &GraphQLAdapter{client: client}
}

func (a *GraphQLAdapter) FetchArticles(ctx context.Context, src source.Config) ([]Article, error) {
	query := src.Query
	if strings.TrimSpace(query) == "" {
		query = DefaultPostsQuery
	}
	first := src.MaxArticles
	if first <= 0 {
		first = defaultMaxArticles[source.KindGraphQL]
	}

	var resp graphQLResponse
	req := graphQLRequest{Query: query, Variables: map[string]any{"first": first}}
	if err := postJSON(ctx, a.client, src, src.Endpoint, req, &resp); err != nil {
		return nil, err
	}

	edges := resp.Data.Posts.Edges
	if len(resp.Errors) > 0 && len(edges) == 0 {
		msgs := make([]string, 0, len(resp.Errors))
		for _, e := range resp.Errors {
			msgs = append(msgs, e.Message)
		}
		return nil, &ParseError{Source: src.ID, Err: errors.New(strings.Join(msgs, "; "))}
	}

	out := make([]Article, 0, len(edges))
	for _, e := range edges {
		n := e.Node
		created, _ := time.Parse(time.RFC3339, n.CreatedAt)
		out = append(out, Article{
			ID:          "ph:" + n.ID,
			Title:       n.Name,
			URL:         n.URL,
			Author:      n.User.Name,
			Excerpt:     n.Tagline,
			PublishedAt: created,
			Score:       float64(n.VotesCount),
		})
	}
	return out, nil
}
