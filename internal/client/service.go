// Package client は顧客（連絡先）のCRUDビジネスロジックを提供する。
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/google/uuid"

	"github.com/hitoshi/crmdesk/internal/model"
	"github.com/hitoshi/crmdesk/internal/repository"
)

// Input は顧客の作成・更新リクエストで受け付ける項目。
// nilのフィールドは「指定なし」を表す。ここに無い項目はマージ対象にならない。
type Input struct {
	FirstName *string `json:"firstName"`
	LastName  *string `json:"lastName"`
	Email     *string `json:"email"`
	Phone     *string `json:"phone"`
	Company   *string `json:"company"`
	Status    *string `json:"status"`
}

// emailPattern はemailの形式チェックに使う。MXレコードの確認は行わない。
var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// Service は顧客管理のサービス層。
type Service struct {
	repo repository.ClientRepository
	now  func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(repo repository.ClientRepository) *Service {
	return &Service{
		repo: repo,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// List は全顧客を姓の昇順で返す。
func (s *Service) List(ctx context.Context) ([]*model.Client, error) {
	clients, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("顧客一覧の取得に失敗しました: %w", err)
	}
	return clients, nil
}

// Get は指定IDの顧客を返す。存在しない場合はCLIENT_NOT_FOUNDエラーを返す。
func (s *Service) Get(ctx context.Context, id string) (*model.Client, error) {
	c, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("顧客の取得に失敗しました: %w", err)
	}
	if c == nil {
		return nil, model.NewClientNotFoundError(id)
	}
	return c, nil
}

// Create は顧客を作成する。
// 必須項目の欠落はVALIDATION_ERROR、email重複はDUPLICATE_EMAILを返す。
func (s *Service) Create(ctx context.Context, in Input) (*model.Client, error) {
	now := s.now()
	c := &model.Client{
		ID:        uuid.New().String(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	merge(c, in)

	if err := validate(c); err != nil {
		return nil, err
	}

	existing, err := s.repo.FindByEmail(ctx, c.Email)
	if err != nil {
		return nil, fmt.Errorf("emailの重複確認に失敗しました: %w", err)
	}
	if existing != nil {
		return nil, model.NewDuplicateEmailError(c.Email)
	}

	if err := s.repo.Create(ctx, c); err != nil {
		// 事前確認と作成の間に別リクエストが同じemailを登録した場合
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return nil, model.NewDuplicateEmailError(c.Email)
		}
		return nil, fmt.Errorf("顧客の作成に失敗しました: %w", err)
	}

	slog.Info("顧客を作成しました", slog.String("client_id", c.ID))
	return c, nil
}

// Update は指定IDの顧客に入力項目をマージして保存する。
// 存在しない場合はCLIENT_NOT_FOUND、マージ結果の必須項目欠落はVALIDATION_ERROR、
// 他の顧客とのemail重複はDUPLICATE_EMAILを返す。
func (s *Service) Update(ctx context.Context, id string, in Input) (*model.Client, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	prevEmail := c.Email
	merge(c, in)
	c.UpdatedAt = s.now()

	if err := validate(c); err != nil {
		return nil, err
	}

	if c.Email != prevEmail {
		other, err := s.repo.FindByEmail(ctx, c.Email)
		if err != nil {
			return nil, fmt.Errorf("emailの重複確認に失敗しました: %w", err)
		}
		if other != nil && other.ID != c.ID {
			return nil, model.NewDuplicateEmailError(c.Email)
		}
	}

	if err := s.repo.Update(ctx, c); err != nil {
		switch {
		case errors.Is(err, repository.ErrDuplicateEmail):
			return nil, model.NewDuplicateEmailError(c.Email)
		case errors.Is(err, repository.ErrNotFound):
			// 取得後に削除された
			return nil, model.NewClientNotFoundError(id)
		}
		return nil, fmt.Errorf("顧客の更新に失敗しました: %w", err)
	}

	slog.Info("顧客を更新しました", slog.String("client_id", c.ID))
	return c, nil
}

// Delete は指定IDの顧客を削除する。存在しない場合はCLIENT_NOT_FOUNDエラーを返す。
func (s *Service) Delete(ctx context.Context, id string) error {
	n, err := s.repo.Delete(ctx, id)
	if err != nil {
		return fmt.Errorf("顧客の削除に失敗しました: %w", err)
	}
	if n == 0 {
		return model.NewClientNotFoundError(id)
	}

	slog.Info("顧客を削除しました", slog.String("client_id", id))
	return nil
}

// merge は指定された項目のみを顧客に反映する。
// 文字列はすべて前後の空白を除去する。空のstatusは初期値に戻す。
func merge(c *model.Client, in Input) {
	if in.FirstName != nil {
		c.FirstName = strings.TrimSpace(*in.FirstName)
	}
	if in.LastName != nil {
		c.LastName = strings.TrimSpace(*in.LastName)
	}
	if in.Email != nil {
		c.Email = strings.TrimSpace(*in.Email)
	}
	if in.Phone != nil {
		c.Phone = strings.TrimSpace(*in.Phone)
	}
	if in.Company != nil {
		c.Company = strings.TrimSpace(*in.Company)
	}
	if in.Status != nil {
		c.Status = strings.TrimSpace(*in.Status)
	}
	if c.Status == "" {
		c.Status = model.DefaultClientStatus
	}
}

// validate は必須項目とemail形式を検証し、違反があればVALIDATION_ERRORを返す。
func validate(c *model.Client) error {
	err := validation.Errors{
		"firstName": validation.Validate(c.FirstName, validation.Required, validation.Length(1, 200)),
		"lastName":  validation.Validate(c.LastName, validation.Required, validation.Length(1, 200)),
		"email":     validation.Validate(c.Email, validation.Required, validation.Length(3, 320), validation.Match(emailPattern)),
		"phone":     validation.Validate(c.Phone, validation.Length(0, 50)),
		"company":   validation.Validate(c.Company, validation.Length(0, 200)),
		"status":    validation.Validate(c.Status, validation.Length(1, 50)),
	}.Filter()
	if err == nil {
		return nil
	}

	var verrs validation.Errors
	if !errors.As(err, &verrs) {
		return model.NewValidationError()
	}
	fields := make([]string, 0, len(verrs))
	for f := range verrs {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return model.NewValidationError(fields...)
}
