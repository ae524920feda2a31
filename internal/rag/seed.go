package rag

// SeedDocuments 内置的风电振动诊断基础知识，空索引启动时写入
func SeedDocuments() []Document {
	return []Document{
		{
			ID:       "kb-unbalance",
			Title:    "不平衡故障",
			Text:     "风电机组不平衡故障特征：主要表现为1X转频处振动幅值增大，通常伴有2X、3X谐波成分。不平衡可能由叶片积冰、叶片损伤、转子质量分布不均等原因引起。",
			Metadata: Metadata{MetaCategory: "故障诊断", MetaFaultType: "不平衡", "frequency": "1X"},
		},
		{
			ID:       "kb-misalignment",
			Title:    "不对中故障",
			Text:     "轴系不对中故障特征：主要表现为2X转频处振动突出，径向和轴向振动都会增大。不对中分为平行不对中和角度不对中，会导致轴承过早磨损。",
			Metadata: Metadata{MetaCategory: "故障诊断", MetaFaultType: "不对中", "frequency": "2X"},
		},
		{
			ID:       "kb-bearing",
			Title:    "滚动轴承故障",
			Text:     "滚动轴承故障特征：表现为高频振动增加，频谱中出现轴承特征频率及其谐波。内圈故障频率约为转频的6-8倍，外圈故障频率约为转频的3-5倍。",
			Metadata: Metadata{MetaCategory: "故障诊断", MetaFaultType: "轴承故障", "frequency": "高频"},
		},
		{
			ID:       "kb-gearbox",
			Title:    "齿轮箱故障",
			Text:     "齿轮箱故障特征：主要表现为齿轮啮合频率及其边频带异常。齿轮磨损会导致啮合频率处振动增大，齿轮断齿会产生冲击性振动。",
			Metadata: Metadata{MetaCategory: "故障诊断", MetaFaultType: "齿轮箱故障", "frequency": "啮合频率"},
		},
		{
			ID:       "kb-looseness",
			Title:    "机械松动",
			Text:     "机械松动故障特征：表现为多次谐波成分丰富，频谱复杂。松动会导致1X、2X、3X等多个频率成分同时增大，时域波形出现削波现象。",
			Metadata: Metadata{MetaCategory: "故障诊断", MetaFaultType: "松动", "frequency": "多谐波"},
		},
		{
			ID:       "kb-iso10816",
			Title:    "振动监测标准",
			Text:     "风电机组振动监测标准：根据ISO 10816标准，风电机组振动烈度分为四个等级：A级(良好)≤2.8mm/s，B级(满意)2.8-7.1mm/s，C级(尚可)7.1-18mm/s，D级(不允许)>18mm/s。",
			Metadata: Metadata{MetaCategory: "标准规范", "standard": "ISO 10816"},
		},
		{
			ID:       "kb-sensor-layout",
			Title:    "测点布置",
			Text:     "振动测点布置原则：主轴承处应布置径向和轴向测点，齿轮箱高速端应重点监测，发电机两端轴承是关键监测位置。测点应避开节点位置。",
			Metadata: Metadata{MetaCategory: "监测技术", "topic": "测点布置"},
		},
		{
			ID:       "kb-frequency-domain",
			Title:    "频域分析",
			Text:     "频域分析方法：FFT分析可识别周期性故障，包络分析适用于轴承故障诊断，倒频谱分析可分离调制信号，小波分析适用于非平稳信号处理。",
			Metadata: Metadata{MetaCategory: "分析方法", "topic": "频域分析"},
		},
		{
			ID:       "kb-time-domain",
			Title:    "时域分析",
			Text:     "时域分析指标：RMS值反映振动能量，峰值反映冲击程度，峰峰值反映振动幅度，峭度因子反映冲击性，偏度因子反映波形对称性。",
			Metadata: Metadata{MetaCategory: "分析方法", "topic": "时域分析"},
		},
		{
			ID:       "kb-trend",
			Title:    "趋势分析",
			Text:     "趋势分析要点：建立振动基线，设置报警阈值，关注振动趋势变化，结合运行工况分析，定期更新分析模型。长期趋势比瞬时值更重要。",
			Metadata: Metadata{MetaCategory: "分析方法", "topic": "趋势分析"},
		},
	}
}
