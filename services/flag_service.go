// file: services/flag_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/Abhinav21110/LetUsHack-MicroK8s/database"
	"github.com/Abhinav21110/LetUsHack-MicroK8s/models"
)

const linuxLabID = 4

// 难度到分值/级别的固定映射，三档合计 100 分。
var (
	difficultyPoints = map[string]int{"easy": 33, "medium": 33, "hard": 34}
	difficultyLevel  = map[string]int{"easy": 1, "medium": 2, "hard": 3}
)

// ScoreStore 是计分与实验记录的读写口，*database.Store 满足该接口。
type ScoreStore interface {
	GetScore(userID string, labID, level int) (*models.LabScore, error)
	UpsertScore(score *models.LabScore) error
	ScoreTotals(userID string, labID int) (total int, solvedCount int, err error)
	GetLab(podName string) (*models.ActiveLab, error)
}

// FlagSubmission 一次 flag 提交。
type FlagSubmission struct {
	LabID      int
	Difficulty string
	Flag       string
	PodName    string
}

// FlagResult 提交结果。Correct=false 仅表示答案不匹配；
// 读取权威 flag 失败时 SubmitFlag 返回 error 而不是 Correct=false。
type FlagResult struct {
	Correct       bool   `json:"correct"`
	AlreadySolved bool   `json:"alreadySolved,omitempty"`
	Points        int    `json:"points"`
	TotalScore    int    `json:"totalScore,omitempty"`
	SolvedCount   int    `json:"solvedCount,omitempty"`
	Completed     bool   `json:"completed,omitempty"`
	Message       string `json:"message"`
}

// FlagService 校验用户提交的 flag 并计分。
// 权威答案每次都从用户自己的实验 Pod 里现读，服务端不存明文 flag。
type FlagService struct {
	orch  Orchestrator
	store ScoreStore
}

func NewFlagService(orch Orchestrator, store ScoreStore) *FlagService {
	return &FlagService{orch: orch, store: store}
}

// flagCommand 返回在实验容器里读取某档权威 flag 的命令。
// Linux 实验（labId=4）的 flag 藏在上传目录和 API 配置里，路径与其它实验不同。
func flagCommand(labID int, difficulty string) []string {
	if labID == linuxLabID {
		switch difficulty {
		case "easy":
			return []string{"cat", "/usr/share/nginx/html/uploads/flag_easy.txt"}
		case "medium":
			return []string{"sh", "-c", `cat /usr/share/nginx/html/api/config.json | grep flag_medium | cut -d\" -f4`}
		case "hard":
			return []string{"cat", "/usr/share/nginx/html/uploads/flag_hard.txt"}
		}
	}
	return []string{"cat", fmt.Sprintf("/usr/share/nginx/html/flag_%s.txt", difficulty)}
}

// SubmitFlag 处理一次提交：
//  1. 已解出的 (labId, level) 直接短路返回，不重复计分；
//  2. 从用户自己的 Pod 里 exec 读出权威 flag，两侧 TrimSpace 后精确比较；
//  3. 读取失败是硬错误，绝不降级为"答案错误"。
func (s *FlagService) SubmitFlag(ctx context.Context, userID string, sub FlagSubmission) (*FlagResult, error) {
	points, ok := difficultyPoints[sub.Difficulty]
	if !ok {
		return nil, &ValidationError{Msg: "invalid difficulty: " + sub.Difficulty}
	}
	if sub.LabID <= 0 || sub.Flag == "" || sub.PodName == "" {
		return nil, &ValidationError{Msg: "labId, flag and podName are required"}
	}
	level := difficultyLevel[sub.Difficulty]

	existing, err := s.store.GetScore(userID, sub.LabID, level)
	if err != nil {
		return nil, fmt.Errorf("load score: %w", err)
	}
	if existing != nil && existing.Solved {
		return &FlagResult{
			Correct:       true,
			AlreadySolved: true,
			Points:        existing.Score,
			Message:       fmt.Sprintf("You already solved this flag! (%d points)", existing.Score),
		}, nil
	}

	// Pod 必须是该用户的活跃实验，命名空间从记录取，不信任客户端
	lab, err := s.store.GetLab(sub.PodName)
	if err != nil {
		if errors.Is(err, database.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load lab record: %w", err)
	}
	if lab.UserID != userID {
		return nil, ErrNotFound
	}

	output, err := s.orch.ExecInPod(ctx, lab.Namespace, lab.PodName, flagCommand(sub.LabID, sub.Difficulty))
	if err != nil {
		return nil, err
	}

	correctFlag := strings.TrimSpace(output)
	submittedFlag := strings.TrimSpace(sub.Flag)

	if correctFlag == "" || correctFlag != submittedFlag {
		return &FlagResult{
			Correct: false,
			Message: "Incorrect flag. Try again!",
		}, nil
	}

	if err := s.store.UpsertScore(&models.LabScore{
		UserID: userID,
		LabID:  sub.LabID,
		Level:  level,
		Score:  points,
		Solved: true,
	}); err != nil {
		return nil, fmt.Errorf("persist score: %w", err)
	}

	total, solvedCount, err := s.store.ScoreTotals(userID, sub.LabID)
	if err != nil {
		return nil, fmt.Errorf("aggregate scores: %w", err)
	}

	log.Printf("Flag solved: user=%s lab=%d level=%d points=%d", userID, sub.LabID, level, points)
	return &FlagResult{
		Correct:     true,
		Points:      points,
		TotalScore:  total,
		SolvedCount: solvedCount,
		Completed:   solvedCount == 3,
		Message:     fmt.Sprintf("Correct! You earned %d points.", points),
	}, nil
}

// Progress 返回用户在某实验上的总分与完成情况。
func (s *FlagService) Progress(userID string, labID int) (*FlagResult, error) {
	total, solvedCount, err := s.store.ScoreTotals(userID, labID)
	if err != nil {
		return nil, fmt.Errorf("aggregate scores: %w", err)
	}
	return &FlagResult{
		TotalScore:  total,
		SolvedCount: solvedCount,
		Completed:   solvedCount == 3,
	}, nil
}
