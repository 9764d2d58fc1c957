// Package catalog はカテゴリとソースの管理を提供する。
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/hitoshi/forumscope/internal/model"
	"github.com/hitoshi/forumscope/internal/repository"
)

const (
	maxCategoryNameLength        = 50
	maxCategoryDescriptionLength = 200
	maxSourceNameLength          = 100
)

var slugPattern = regexp.MustCompile(`^[a-z0-9-]+$`)

// FeedURLDetector はページURLからフィードURLを特定する。
type FeedURLDetector interface {
	DetectFeedURL(ctx context.Context, pageURL string) (string, error)
}

// Service はカテゴリとソースのユースケースを実装する。
type Service struct {
	categories repository.CategoryRepository
	sources    repository.SourceRepository
	validator  URLValidator
	detector   FeedURLDetector
	logger     *slog.Logger
}

// NewService はServiceを生成する。
func NewService(
	categories repository.CategoryRepository,
	sources repository.SourceRepository,
	validator URLValidator,
	detector FeedURLDetector,
	logger *slog.Logger,
) *Service {
	return &Service{
		categories: categories,
		sources:    sources,
		validator:  validator,
		detector:   detector,
		logger:     logger,
	}
}

// CategoryInput はカテゴリ作成の入力。
type CategoryInput struct {
	Name        string
	Slug        string
	Description string
	IsActive    *bool
}

// ListCategories はカテゴリを名前順に返す。
func (s *Service) ListCategories(ctx context.Context, includeInactive bool) ([]*model.Category, error) {
	categories, err := s.categories.List(ctx, includeInactive)
	if err != nil {
		return nil, fmt.Errorf("カテゴリ一覧の取得に失敗しました: %w", err)
	}
	if categories == nil {
		categories = []*model.Category{}
	}
	return categories, nil
}

// CreateCategory は入力を検証してカテゴリを作成する。IsActive未指定時は有効。
func (s *Service) CreateCategory(ctx context.Context, in CategoryInput) (*model.Category, error) {
	name := strings.TrimSpace(in.Name)
	slug := strings.TrimSpace(in.Slug)
	desc := strings.TrimSpace(in.Description)

	switch {
	case name == "":
		return nil, model.NewCategoryValidationError("nameは必須です")
	case utf8.RuneCountInString(name) > maxCategoryNameLength:
		return nil, model.NewCategoryValidationError(fmt.Sprintf("nameは%d文字以内で入力してください", maxCategoryNameLength))
	case !slugPattern.MatchString(slug):
		return nil, model.NewCategoryValidationError("slugは英小文字・数字・ハイフンのみ使用できます")
	case utf8.RuneCountInString(desc) > maxCategoryDescriptionLength:
		return nil, model.NewCategoryValidationError(fmt.Sprintf("descriptionは%d文字以内で入力してください", maxCategoryDescriptionLength))
	}

	c := &model.Category{Name: name, Slug: slug, Description: desc, IsActive: true}
	if in.IsActive != nil {
		c.IsActive = *in.IsActive
	}
	err := s.categories.Create(ctx, c)
	if errors.Is(err, repository.ErrDuplicate) {
		return nil, model.NewDuplicateCategoryError(slug)
	}
	if err != nil {
		return nil, fmt.Errorf("カテゴリの作成に失敗しました: %w", err)
	}

	s.logger.Info("カテゴリを作成しました",
		slog.Int64("category_id", c.ID),
		slog.String("slug", c.Slug),
	)
	return c, nil
}

// ToggleCategory はカテゴリの有効・無効を切り替える。
func (s *Service) ToggleCategory(ctx context.Context, id int64) (*model.Category, error) {
	c, err := s.categories.ToggleActive(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("カテゴリの更新に失敗しました: %w", err)
	}
	if c == nil {
		return nil, model.NewCategoryNotFoundError(fmt.Sprintf("%d", id))
	}
	s.logger.Info("カテゴリの有効状態を切り替えました",
		slog.Int64("category_id", c.ID),
		slog.Bool("is_active", c.IsActive),
	)
	return c, nil
}

// SourceInput はソース登録の入力。
type SourceInput struct {
	Name       string
	URL        string
	Type       model.SourceType
	CategoryID *int64
	IsActive   *bool
}

// ListSources はソースを名前順に返す。
func (s *Service) ListSources(ctx context.Context) ([]*model.Source, error) {
	sources, err := s.sources.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("ソース一覧の取得に失敗しました: %w", err)
	}
	if sources == nil {
		sources = []*model.Source{}
	}
	return sources, nil
}

// CreateSource は入力を検証してソースを登録する。
// rssの場合はURLがHTMLページでもフィードURLを自動検出して保存する。
func (s *Service) CreateSource(ctx context.Context, in SourceInput) (*model.Source, error) {
	name := strings.TrimSpace(in.Name)
	rawURL := strings.TrimSpace(in.URL)
	typ := model.SourceType(strings.ToLower(strings.TrimSpace(string(in.Type))))

	switch {
	case name == "":
		return nil, model.NewSourceValidationError("nameは必須です")
	case utf8.RuneCountInString(name) > maxSourceNameLength:
		return nil, model.NewSourceValidationError(fmt.Sprintf("nameは%d文字以内で入力してください", maxSourceNameLength))
	case !typ.IsValid():
		return nil, model.NewSourceValidationError(fmt.Sprintf("未対応のtypeです: %q", in.Type))
	}

	if in.CategoryID != nil {
		c, err := s.categories.FindByID(ctx, *in.CategoryID)
		if err != nil {
			return nil, fmt.Errorf("カテゴリの取得に失敗しました: %w", err)
		}
		if c == nil {
			return nil, model.NewCategoryNotFoundError(fmt.Sprintf("%d", *in.CategoryID))
		}
	}

	if err := validateOutboundURL(s.validator, rawURL); err != nil {
		return nil, err
	}
	if typ == model.SourceTypeRSS && s.detector != nil {
		feedURL, err := s.detector.DetectFeedURL(ctx, rawURL)
		if err != nil {
			return nil, err
		}
		if feedURL != rawURL {
			s.logger.Info("フィードURLを検出しました",
				slog.String("url", rawURL),
				slog.String("feed_url", feedURL),
			)
		}
		rawURL = feedURL
	}

	src := &model.Source{Name: name, URL: rawURL, Type: typ, IsActive: true, CategoryID: in.CategoryID}
	if in.IsActive != nil {
		src.IsActive = *in.IsActive
	}
	if err := s.sources.Create(ctx, src); err != nil {
		return nil, fmt.Errorf("ソースの登録に失敗しました: %w", err)
	}

	s.logger.Info("ソースを登録しました",
		slog.Int64("source_id", src.ID),
		slog.String("type", string(src.Type)),
		slog.String("url", src.URL),
	)
	return src, nil
}
