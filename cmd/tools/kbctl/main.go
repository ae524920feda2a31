// kbctl 知识库维护工具：批量入库、检索调试、文档列表与删除
package main

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"cmsreport/api"
	"cmsreport/internal/config"
	"cmsreport/internal/infra"
	"cmsreport/internal/logger"
	"cmsreport/internal/rag"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

var (
	envName   string
	category  string
	component string
	topK      int
	budget    int
)

var rootCmd = &cobra.Command{
	Use:           "kbctl",
	Short:         "CMS 知识库维护工具",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var ingestCmd = &cobra.Command{
	Use:   "ingest [path...]",
	Short: "导入文件或目录下所有支持的文档",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runIngest,
}

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "执行混合检索并打印上下文",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSearch,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "列出已入库文档",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

var deleteCmd = &cobra.Command{
	Use:   "delete [document-id...]",
	Short: "删除文档及其段落",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runDelete,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envName, "env", "", "配置环境 dev/prod/test，默认读取 APP_ENV")

	ingestCmd.Flags().StringVar(&category, "category", "", "文档类别元数据")
	ingestCmd.Flags().StringVar(&component, "component", "", "部件元数据，如 主轴承、齿轮箱")

	searchCmd.Flags().IntVarP(&topK, "top-k", "k", 5, "返回段落数")
	searchCmd.Flags().IntVar(&budget, "budget", 0, "上下文 token 预算，0 使用配置值")
	searchCmd.Flags().StringVar(&category, "category", "", "按类别过滤")
	searchCmd.Flags().StringVar(&component, "component", "", "按部件过滤")

	rootCmd.AddCommand(ingestCmd, searchCmd, listCmd, deleteCmd)
}

func main() {
	_ = godotenv.Load()
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "错误:", err)
		os.Exit(1)
	}
}

// session 一次命令执行所需的服务
type session struct {
	cfg       *config.Config
	db        *gorm.DB
	redis     redis.UniversalClient
	container *api.AppContainer
}

func openSession(ctx context.Context) (*session, error) {
	env := envName
	if env == "" {
		env = os.Getenv("APP_ENV")
	}
	if env == "" {
		env = "dev"
	}
	cfg, err := config.Load(env, "")
	if err != nil {
		return nil, fmt.Errorf("加载配置失败: %w", err)
	}
	if err := logger.Init("warn", "console", "stderr"); err != nil {
		return nil, err
	}
	// 工具进程不消费队列
	cfg.Worker.Enabled = false
	cfg.Worker.PoolSize = 1

	db, err := infra.OpenDatabase(&cfg.Database, logger.Get())
	if err != nil {
		return nil, fmt.Errorf("初始化数据库失败: %w", err)
	}
	s := &session{cfg: cfg, db: db}
	if cfg.RAG.EmbeddingCache.Enabled {
		s.redis = api.ConnectRedis(ctx, cfg)
	}
	s.container, err = api.InitContainer(ctx, db, s.redis, cfg)
	if err != nil {
		s.close()
		return nil, err
	}
	return s, nil
}

func (s *session) close() {
	if s.container != nil {
		s.container.Close()
	}
	if s.redis != nil {
		_ = s.redis.Close()
	}
	_ = infra.CloseDatabase(s.db)
	_ = logger.Sync()
}

func metadataFlags() rag.Metadata {
	meta := rag.Metadata{}
	if category != "" {
		meta["category"] = category
	}
	if component != "" {
		meta["component"] = component
	}
	return meta
}

// collectFiles 展开目录并过滤不支持的格式，结果按路径排序
func collectFiles(ingestor *rag.Ingestor, paths []string) ([]string, error) {
	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}
		err = filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && ingestor.Supports(path) {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	sort.Strings(files)
	return files, nil
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.close()

	files, err := collectFiles(s.container.Ingestor, args)
	if err != nil {
		return err
	}
	meta := metadataFlags()
	failed := 0
	for _, f := range files {
		res, err := s.container.Ingestor.IngestFile(ctx, f, meta)
		if err != nil {
			failed++
			fmt.Fprintf(cmd.ErrOrStderr(), "跳过 %s: %v\n", f, err)
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s (%d 个段落)\n", f, res.DocumentID, res.Passages)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "完成: 成功 %d，失败 %d，索引共 %d 个段落\n", len(files)-failed, failed, s.container.Index.Len())
	if failed > 0 && failed == len(files) {
		return fmt.Errorf("全部 %d 个文件导入失败", failed)
	}
	return nil
}

func runSearch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.close()

	query := strings.Join(args, " ")
	res, err := s.container.Retriever.RetrieveFiltered(ctx, query, topK, rag.Filter(metadataFlags()))
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "检索模式: %s，命中 %d 条\n", res.Mode, len(res.Items))
	for i, item := range res.Items {
		fmt.Fprintf(out, "%d. [%s] score=%.3f dense=%.3f sparse=%.3f\n", i+1, item.Passage.ID, item.Score, item.DenseScore, item.SparseScore)
	}

	b := budget
	if b <= 0 {
		b = s.cfg.RAG.Context.Budget
	}
	pc := s.container.Assembler.Assemble(res, query, b)
	fmt.Fprintf(out, "\n--- 上下文 (%d tokens) ---\n%s\n", pc.Tokens, pc.Text)
	return nil
}

func runList(cmd *cobra.Command, _ []string) error {
	s, err := openSession(cmd.Context())
	if err != nil {
		return err
	}
	defer s.close()

	docs := s.container.Index.Documents()
	ids := make([]string, 0, len(docs))
	for id := range docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d\n", id, docs[id])
	}
	return nil
}

func runDelete(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.close()

	for _, id := range args {
		if err := s.container.Ingestor.Delete(ctx, id); err != nil {
			return fmt.Errorf("删除 %s 失败: %w", id, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "已删除 %s\n", id)
	}
	return nil
}
